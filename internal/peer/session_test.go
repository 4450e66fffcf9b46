package peer

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func newTestSession(t *testing.T, cb Callbacks) *Session {
	t.Helper()
	api, err := NewAPI(nil, webrtc.SettingEngine{})
	if err != nil {
		t.Fatalf("NewAPI: %v", err)
	}
	s, err := NewSession(api, nil, nil, cb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func localTracks(t *testing.T) []webrtc.TrackLocal {
	t.Helper()
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		t.Fatalf("audio track: %v", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
	if err != nil {
		t.Fatalf("video track: %v", err)
	}
	return []webrtc.TrackLocal{audio, video}
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	caller := newTestSession(t, Callbacks{})
	callee := newTestSession(t, Callbacks{})

	if err := caller.AddLocalTracks(localTracks(t)); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer type = %v", offer.Type)
	}
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "m=video") {
		t.Fatal("offer missing media sections")
	}

	if err := callee.AddLocalTracks(localTracks(t)); err != nil {
		t.Fatalf("callee AddLocalTracks: %v", err)
	}
	answer, err := callee.CreateAnswer(offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("answer type = %v", answer.Type)
	}

	if err := caller.ApplyRemoteAnswer(answer); err != nil {
		t.Fatalf("ApplyRemoteAnswer: %v", err)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	caller := newTestSession(t, Callbacks{})
	callee := newTestSession(t, Callbacks{})

	if err := caller.AddLocalTracks(localTracks(t)); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}
	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	candidate := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 UDP 2122252543 127.0.0.1 54321 typ host",
	}
	for i := 0; i < 3; i++ {
		if err := callee.AddRemoteCandidate(candidate); err != nil {
			t.Fatalf("AddRemoteCandidate #%d: %v", i+1, err)
		}
	}
	if got := callee.PendingCandidates(); got != 3 {
		t.Fatalf("PendingCandidates = %d, want 3", got)
	}

	if _, err := callee.CreateAnswer(offer); err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if got := callee.PendingCandidates(); got != 0 {
		t.Fatalf("PendingCandidates after answer = %d, want 0", got)
	}

	// later candidates are applied directly
	if err := callee.AddRemoteCandidate(candidate); err != nil {
		t.Fatalf("AddRemoteCandidate after answer: %v", err)
	}
	if got := callee.PendingCandidates(); got != 0 {
		t.Fatalf("PendingCandidates = %d, want 0", got)
	}
}

func TestReplaceVideoTrack(t *testing.T) {
	s := newTestSession(t, Callbacks{})
	if err := s.ReplaceVideoTrack(nil); err == nil {
		t.Fatal("ReplaceVideoTrack without sender succeeded")
	}

	if err := s.AddLocalTracks(localTracks(t)); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}
	screen, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "local")
	if err != nil {
		t.Fatalf("screen track: %v", err)
	}
	if err := s.ReplaceVideoTrack(screen); err != nil {
		t.Fatalf("ReplaceVideoTrack: %v", err)
	}
}

func TestSetEnabledWithoutSenderIsNoop(t *testing.T) {
	s := newTestSession(t, Callbacks{})
	if err := s.SetAudioEnabled(false); err != nil {
		t.Fatalf("SetAudioEnabled: %v", err)
	}
	if err := s.SetVideoEnabled(false); err != nil {
		t.Fatalf("SetVideoEnabled: %v", err)
	}
}

func TestMuteUnmute(t *testing.T) {
	s := newTestSession(t, Callbacks{})
	if err := s.AddLocalTracks(localTracks(t)); err != nil {
		t.Fatalf("AddLocalTracks: %v", err)
	}
	if err := s.SetAudioEnabled(false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := s.SetAudioEnabled(true); err != nil {
		t.Fatalf("unmute: %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := newTestSession(t, Callbacks{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := s.AddRemoteCandidate(webrtc.ICECandidateInit{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("AddRemoteCandidate after close = %v, want ErrSessionClosed", err)
	}
}
