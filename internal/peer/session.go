package peer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Callbacks surface session events to the owner. All callbacks may be invoked
// from pion goroutines; owners must not call back into the Session while
// holding their own locks.
type Callbacks struct {
	// OnRemoteTrack fires once per remote track as media starts arriving.
	OnRemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

	// OnLocalCandidate fires for each locally gathered ICE candidate that
	// should be forwarded to the remote party over signaling.
	OnLocalCandidate func(candidate webrtc.ICECandidateInit)

	// OnConnectionFailed fires when the transport reaches a terminal failed
	// or closed state.
	OnConnectionFailed func()
}

// Session owns one PeerConnection for the lifetime of a call.
type Session struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	audio     senderSlot
	video     senderSlot
	closed    bool
	closeOnce sync.Once
}

// senderSlot remembers the sender and its original track so mute/unmute and
// screen-share can swap tracks without renegotiating.
type senderSlot struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
}

func NewSession(api *webrtc.API, iceServers []webrtc.ICEServer, log *slog.Logger, cb Callbacks) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	s := &Session{pc: pc, log: log}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Debug("remote track", "kind", track.Kind().String(), "id", track.ID())
		if cb.OnRemoteTrack != nil {
			cb.OnRemoteTrack(track, receiver)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if cb.OnLocalCandidate != nil {
			cb.OnLocalCandidate(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if cb.OnConnectionFailed != nil {
				cb.OnConnectionFailed()
			}
		}
	})

	return s, nil
}

// AddLocalTracks attaches the captured tracks and remembers the resulting
// senders by kind. Call before CreateOffer / CreateAnswer.
func (s *Session) AddLocalTracks(tracks []webrtc.TrackLocal) error {
	for _, track := range tracks {
		sender, err := s.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind().String(), err)
		}
		s.mu.Lock()
		switch track.Kind() {
		case webrtc.RTPCodecTypeAudio:
			s.audio = senderSlot{sender: sender, track: track}
		case webrtc.RTPCodecTypeVideo:
			s.video = senderSlot{sender: sender, track: track}
		}
		s.mu.Unlock()
	}
	return nil
}

// CreateOffer produces and installs the local offer for the caller side.
// Candidates trickle via OnLocalCandidate as gathering proceeds.
func (s *Session) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return offer, nil
}

// CreateAnswer installs the remote offer and produces the local answer for
// the callee side. Any candidates queued before the offer arrived are applied
// once the remote description is in place.
func (s *Session) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := s.setRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return answer, nil
}

// ApplyRemoteAnswer completes negotiation on the caller side.
func (s *Session) ApplyRemoteAnswer(answer webrtc.SessionDescription) error {
	return s.setRemoteDescription(answer)
}

func (s *Session) setRemoteDescription(desc webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			s.log.Warn("apply queued ice candidate", "err", err)
		}
	}
	return nil
}

// AddRemoteCandidate applies a remote ICE candidate, queueing it when the
// remote description has not been set yet.
func (s *Session) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(candidate)
}

// PendingCandidates reports how many remote candidates are queued awaiting
// the remote description.
func (s *Session) PendingCandidates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ReplaceVideoTrack swaps the outgoing video track in place; the transport
// keeps its negotiated parameters, so no offer/answer round is needed. The
// replacement becomes the slot's restore target for later unmutes.
func (s *Session) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	slot := s.video
	s.mu.Unlock()
	if slot.sender == nil {
		return fmt.Errorf("no video sender")
	}
	if err := slot.sender.ReplaceTrack(track); err != nil {
		return fmt.Errorf("replace video track: %w", err)
	}
	s.mu.Lock()
	s.video.track = track
	s.mu.Unlock()
	return nil
}

// SetAudioEnabled pauses or resumes the outgoing audio track.
func (s *Session) SetAudioEnabled(enabled bool) error {
	return s.setEnabled(&s.audio, enabled)
}

// SetVideoEnabled pauses or resumes the outgoing video track.
func (s *Session) SetVideoEnabled(enabled bool) error {
	return s.setEnabled(&s.video, enabled)
}

func (s *Session) setEnabled(slot *senderSlot, enabled bool) error {
	s.mu.Lock()
	sender, track := slot.sender, slot.track
	s.mu.Unlock()
	if sender == nil {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}

// Close tears down the transport. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.pending = nil
		s.mu.Unlock()
		err = s.pc.Close()
	})
	return err
}
