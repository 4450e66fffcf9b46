package media

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"permission", errors.New("open /dev/video0: permission denied"), KindPermissionDenied},
		{"not permitted", errors.New("operation not permitted"), KindPermissionDenied},
		{"busy", errors.New("open /dev/video0: device or resource busy"), KindDeviceBusy},
		{"unplugged", errors.New("open /dev/video1: no such file or directory"), KindNotFound},
		{"no such device", errors.New("read: no such device"), KindNotFound},
		{"constraints", errors.New("failed to find the best driver that fits the constraints"), KindConstraint},
		{"other", errors.New("i/o timeout"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.err)
			if got.Kind != tc.want {
				t.Fatalf("Classify(%q).Kind = %s, want %s", tc.err, got.Kind, tc.want)
			}
			if !errors.Is(got, tc.err) {
				t.Fatalf("classified error does not wrap the original")
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Fatalf("Classify(nil) = %v, want nil", got)
	}
}

func TestClassifyIdempotent(t *testing.T) {
	orig := &Error{Kind: KindDeviceBusy, Err: errors.New("busy")}
	wrapped := fmt.Errorf("outer: %w", errors.New("x"))
	_ = wrapped
	if got := Classify(orig); got != orig {
		t.Fatalf("Classify of an already classified error should return it unchanged")
	}
}

func TestUserMessageCoversAllKinds(t *testing.T) {
	kinds := []ErrorKind{
		KindPermissionDenied, KindDeviceBusy, KindNotFound,
		KindConstraint, KindNoDevice, KindUnknown,
	}
	seen := make(map[string]ErrorKind)
	for _, k := range kinds {
		msg := (&Error{Kind: k}).UserMessage()
		if msg == "" {
			t.Fatalf("kind %s has no user message", k)
		}
		if prev, dup := seen[msg]; dup {
			t.Fatalf("kinds %s and %s share message %q", prev, k, msg)
		}
		seen[msg] = k
	}
}
