package media

import (
	"fmt"
	"strings"
)

// ErrorKind classifies capture failures so callers can pick a remediation
// message instead of surfacing raw driver errors.
type ErrorKind string

const (
	// KindPermissionDenied means the OS or browser denied device access.
	KindPermissionDenied ErrorKind = "permission-denied"
	// KindDeviceBusy means another process holds the device.
	KindDeviceBusy ErrorKind = "device-busy"
	// KindNotFound means a previously present device disappeared.
	KindNotFound ErrorKind = "not-found"
	// KindConstraint means no device satisfies the requested constraints.
	KindConstraint ErrorKind = "constraint-unsatisfiable"
	// KindNoDevice means no capture device of the requested type exists.
	KindNoDevice ErrorKind = "no-device"
	// KindUnknown covers everything else.
	KindUnknown ErrorKind = "unknown"
)

// Error wraps a capture failure with its classified kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// UserMessage is the remediation text shown to the user for this kind.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindPermissionDenied:
		return "camera and microphone permission required"
	case KindDeviceBusy:
		return "camera or microphone is in use by another application"
	case KindNotFound:
		return "camera or microphone was disconnected"
	case KindConstraint:
		return "no camera or microphone matches the requested settings"
	case KindNoDevice:
		return "no camera or microphone found"
	default:
		return "could not access camera or microphone"
	}
}

// Classify wraps err with the ErrorKind inferred from the driver error text.
// Capture drivers do not expose typed errors, so this matches on the
// substrings the common backends produce.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*Error); ok {
		return me
	}
	return &Error{Kind: classifyText(err.Error()), Err: err}
}

func classifyText(text string) ErrorKind {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "access denied"):
		return KindPermissionDenied
	case strings.Contains(lower, "device or resource busy"),
		strings.Contains(lower, "resource busy"),
		strings.Contains(lower, "in use"):
		return KindDeviceBusy
	case strings.Contains(lower, "no such file or directory"),
		strings.Contains(lower, "no such device"),
		strings.Contains(lower, "device not found"):
		return KindNotFound
	case strings.Contains(lower, "failed to find the best driver"),
		strings.Contains(lower, "overconstrained"):
		return KindConstraint
	default:
		return KindUnknown
	}
}
