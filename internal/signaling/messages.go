package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"
)

// Kind tags one message in the relay protocol. Values are part of the wire
// protocol shared with the relay; keep them stable.
type Kind string

const (
	KindRegisterUser         Kind = "register-user"
	KindUserRegistered       Kind = "user-registered"
	KindCheckAvailability    Kind = "check-user-availability"
	KindAvailabilityResponse Kind = "user-availability-response"
	KindInitiateCall         Kind = "initiate-call"
	KindIncomingCall         Kind = "incoming-call"
	KindCallAccepted         Kind = "call-accepted"
	KindCallRejected         Kind = "call-rejected"
	KindCancelCall           Kind = "cancel-call"
	KindCallCancelled        Kind = "call-cancelled"
	KindCallEnded            Kind = "call-ended"
	KindICECandidate         Kind = "ice-candidate"
)

// SDP is a JSON-friendly session description, decoupled from pion types at the
// protocol surface.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SDPFromPion(desc webrtc.SessionDescription) SDP {
	return SDP{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (s SDP) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch s.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("unsupported sdp type %q", s.Type)
	}
	return webrtc.SessionDescription{Type: t, SDP: s.SDP}, nil
}

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

// Message is the tagged union carried over the relay. Exactly the fields for
// its Kind may be set; Validate enforces this in both directions.
type Message struct {
	Kind Kind `json:"kind"`

	// Routing. TargetUserID addresses outbound messages; FromUserID is
	// stamped by the relay on inbound ones.
	TargetUserID string `json:"targetUserId,omitempty"`
	FromUserID   string `json:"fromUserId,omitempty"`

	// register-user / user-registered.
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
	SocketID string `json:"socketId,omitempty"`
	Success  *bool  `json:"success,omitempty"`

	// user-availability-response.
	IsAvailable *bool `json:"isAvailable,omitempty"`

	// initiate-call / incoming-call.
	CallerID   string `json:"callerId,omitempty"`
	CallerName string `json:"callerName,omitempty"`
	Offer      *SDP   `json:"offer,omitempty"`

	// call-accepted.
	Answer *SDP `json:"answer,omitempty"`

	// ice-candidate.
	Candidate *Candidate `json:"candidate,omitempty"`

	// call-rejected. Optional human-readable reason ("busy",
	// "camera permission required", ...).
	Reason string `json:"reason,omitempty"`
}

// Parse decodes and validates one relay message. Unknown fields and trailing
// data are rejected.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

// Encode validates and marshals msg for transmission.
func Encode(msg Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func (m Message) Validate() error {
	switch m.Kind {
	case KindRegisterUser:
		if m.UserID == "" {
			return fmt.Errorf("register-user message missing userId")
		}
		if m.TargetUserID != "" || m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("register-user message has unexpected fields")
		}
	case KindUserRegistered:
		if m.Success == nil {
			return fmt.Errorf("user-registered message missing success")
		}
	case KindCheckAvailability:
		if m.TargetUserID == "" {
			return fmt.Errorf("check-user-availability message missing targetUserId")
		}
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("check-user-availability message has unexpected fields")
		}
	case KindAvailabilityResponse:
		if m.IsAvailable == nil {
			return fmt.Errorf("user-availability-response message missing isAvailable")
		}
	case KindInitiateCall:
		if m.TargetUserID == "" || m.CallerID == "" {
			return fmt.Errorf("initiate-call message missing targetUserId/callerId")
		}
		if m.Offer == nil {
			return fmt.Errorf("initiate-call message missing offer")
		}
		if m.Offer.Type != "offer" {
			return fmt.Errorf("initiate-call message has offer.type=%q", m.Offer.Type)
		}
		if m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("initiate-call message has unexpected fields")
		}
	case KindIncomingCall:
		if m.CallerID == "" {
			return fmt.Errorf("incoming-call message missing callerId")
		}
		if m.Offer == nil {
			return fmt.Errorf("incoming-call message missing offer")
		}
		if m.Offer.Type != "offer" {
			return fmt.Errorf("incoming-call message has offer.type=%q", m.Offer.Type)
		}
		if m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("incoming-call message has unexpected fields")
		}
	case KindCallAccepted:
		if m.Answer == nil {
			return fmt.Errorf("call-accepted message missing answer")
		}
		if m.Answer.Type != "answer" {
			return fmt.Errorf("call-accepted message has answer.type=%q", m.Answer.Type)
		}
		if m.Offer != nil || m.Candidate != nil {
			return fmt.Errorf("call-accepted message has unexpected fields")
		}
	case KindCallRejected, KindCancelCall, KindCallCancelled, KindCallEnded:
		if m.Offer != nil || m.Answer != nil || m.Candidate != nil {
			return fmt.Errorf("%s message has unexpected fields", m.Kind)
		}
	case KindICECandidate:
		if m.Candidate == nil {
			return fmt.Errorf("ice-candidate message missing candidate")
		}
		if m.Offer != nil || m.Answer != nil {
			return fmt.Errorf("ice-candidate message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message kind %q", m.Kind)
	}
	return nil
}
