package call

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/peer"
	"github.com/duocall/duocall/internal/signaling"
)

// Signaler is the relay connection the machine talks through.
// *signaling.Channel satisfies it.
type Signaler interface {
	Send(msg signaling.Message) error
	Messages() <-chan signaling.Message
	Statuses() <-chan signaling.Status
}

// Capture acquires local devices. *media.Capturer satisfies it.
type Capture interface {
	Acquire(ctx context.Context) (*media.Bundle, error)
	// ScreenTrack opens a display capture track. onEnded fires when the
	// share stops outside the client, e.g. from the OS picker.
	ScreenTrack(ctx context.Context, onEnded func()) (webrtc.TrackLocal, func(), error)
}

// Peer is one negotiated transport. *peer.Session satisfies it.
type Peer interface {
	AddLocalTracks(tracks []webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	ApplyRemoteAnswer(answer webrtc.SessionDescription) error
	AddRemoteCandidate(candidate webrtc.ICECandidateInit) error
	ReplaceVideoTrack(track webrtc.TrackLocal) error
	SetAudioEnabled(enabled bool) error
	SetVideoEnabled(enabled bool) error
	Close() error
}

// PeerFactory builds one Peer per call attempt.
type PeerFactory interface {
	NewPeer(cb peer.Callbacks) (Peer, error)
}

// Identity resolves the local user. It may be unresolved early in the
// process lifetime; call attempts fail cleanly until it resolves.
type Identity interface {
	Current() (signaling.Identity, bool)
}

// Notifier is the user-visible surface for call events.
type Notifier interface {
	Info(msg string)
	Error(msg string)
	// IncomingCall announces a ringing call awaiting an accept/reject
	// decision.
	IncomingCall(callerID, callerName string)
	// IncomingCallDismissed retracts a previously announced incoming call,
	// e.g. the caller cancelled or the ring timed out.
	IncomingCallDismissed()
}

// Router navigates the UI between the call view and the home view.
type Router interface {
	ToCall(remoteID string)
	ToHome()
}

// Recorder captures the live call locally. *recording.Recorder satisfies it.
type Recorder interface {
	Start(local *media.Bundle, remote *media.RemoteStream) error
	Stop() error
	Active() bool
}

// StaticIdentity is an Identity fixed at construction, for deployments where
// the user is known from configuration.
type StaticIdentity signaling.Identity

func (s StaticIdentity) Current() (signaling.Identity, bool) {
	if s.UserID == "" {
		return signaling.Identity{}, false
	}
	return signaling.Identity(s), true
}
