package signaling

import (
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func boolPtr(b bool) *bool { return &b }

func TestParseEncodeRoundTrip(t *testing.T) {
	mid := "0"
	msgs := []Message{
		{Kind: KindRegisterUser, UserID: "alice", UserName: "Alice", SocketID: "sock-1"},
		{Kind: KindUserRegistered, Success: boolPtr(true), SocketID: "sock-1"},
		{Kind: KindCheckAvailability, TargetUserID: "bob"},
		{Kind: KindAvailabilityResponse, IsAvailable: boolPtr(false)},
		{
			Kind:         KindInitiateCall,
			TargetUserID: "bob",
			CallerID:     "alice",
			CallerName:   "Alice",
			Offer:        &SDP{Type: "offer", SDP: "v=0"},
		},
		{
			Kind:       KindIncomingCall,
			CallerID:   "alice",
			CallerName: "Alice",
			Offer:      &SDP{Type: "offer", SDP: "v=0"},
		},
		{Kind: KindCallAccepted, TargetUserID: "alice", Answer: &SDP{Type: "answer", SDP: "v=0"}},
		{Kind: KindCallRejected, TargetUserID: "alice", Reason: "busy"},
		{Kind: KindCancelCall, TargetUserID: "bob"},
		{Kind: KindCallCancelled, FromUserID: "alice"},
		{Kind: KindCallEnded, FromUserID: "bob"},
		{
			Kind:         KindICECandidate,
			TargetUserID: "bob",
			Candidate:    &Candidate{Candidate: "candidate:1", SDPMid: &mid},
		},
	}

	for _, msg := range msgs {
		data, err := Encode(msg)
		if err != nil {
			t.Fatalf("Encode(%s): %v", msg.Kind, err)
		}
		got, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse(%s): %v", msg.Kind, err)
		}
		if got.Kind != msg.Kind || got.TargetUserID != msg.TargetUserID || got.Reason != msg.Reason {
			t.Errorf("%s: round trip mismatch: %+v", msg.Kind, got)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want string
	}{
		{"unknown kind", Message{Kind: "bogus"}, "unsupported message kind"},
		{"register without user", Message{Kind: KindRegisterUser}, "missing userId"},
		{
			"register with offer",
			Message{Kind: KindRegisterUser, UserID: "a", Offer: &SDP{Type: "offer"}},
			"unexpected fields",
		},
		{"registered without success", Message{Kind: KindUserRegistered}, "missing success"},
		{"availability check without target", Message{Kind: KindCheckAvailability}, "missing targetUserId"},
		{"availability response without flag", Message{Kind: KindAvailabilityResponse}, "missing isAvailable"},
		{
			"initiate without offer",
			Message{Kind: KindInitiateCall, TargetUserID: "b", CallerID: "a"},
			"missing offer",
		},
		{
			"initiate with answer-typed offer",
			Message{Kind: KindInitiateCall, TargetUserID: "b", CallerID: "a", Offer: &SDP{Type: "answer"}},
			`offer.type="answer"`,
		},
		{"incoming without caller", Message{Kind: KindIncomingCall, Offer: &SDP{Type: "offer"}}, "missing callerId"},
		{"accepted without answer", Message{Kind: KindCallAccepted}, "missing answer"},
		{
			"accepted with offer-typed answer",
			Message{Kind: KindCallAccepted, Answer: &SDP{Type: "offer"}},
			`answer.type="offer"`,
		},
		{
			"rejected with sdp",
			Message{Kind: KindCallRejected, Answer: &SDP{Type: "answer"}},
			"unexpected fields",
		},
		{"candidate without payload", Message{Kind: KindICECandidate}, "missing candidate"},
	}
	for _, c := range cases {
		err := c.msg.Validate()
		if err == nil {
			t.Errorf("%s: Validate succeeded", c.name)
			continue
		}
		if !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: error %q does not mention %q", c.name, err, c.want)
		}
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(`{"kind":"call-ended","bogus":1}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	if _, err := Parse([]byte(`{"kind":"call-ended"}{"kind":"call-ended"}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestSDPConversion(t *testing.T) {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	s := SDPFromPion(desc)
	if s.Type != "offer" || s.SDP != "v=0" {
		t.Fatalf("SDPFromPion = %+v", s)
	}
	back, err := s.ToPion()
	if err != nil {
		t.Fatalf("ToPion: %v", err)
	}
	if back != desc {
		t.Fatalf("round trip = %+v", back)
	}

	if _, err := (SDP{Type: "pranswer"}).ToPion(); err == nil {
		t.Fatal("unsupported sdp type accepted")
	}
}

func TestCandidateConversion(t *testing.T) {
	mid := "0"
	idx := uint16(1)
	init := webrtc.ICECandidateInit{Candidate: "candidate:1", SDPMid: &mid, SDPMLineIndex: &idx}
	c := CandidateFromPion(init)
	back := c.ToPion()
	if back.Candidate != init.Candidate || *back.SDPMid != mid || *back.SDPMLineIndex != idx {
		t.Fatalf("round trip = %+v", back)
	}
}
