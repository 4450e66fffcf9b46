// Package media acquires local capture devices and classifies their failures.
//
// Acquisition tries video+audio first and falls back to audio-only so a
// missing or busy camera never blocks a voice call. Failures are classified
// into typed kinds the call state machine maps onto user-facing messages and
// reject reasons.
package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Bundle is the local capture handed to the peer session: the captured
// tracks plus the user-facing toggles for this call.
type Bundle struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal

	audioOnly     bool
	muted         bool
	videoOff      bool
	screenSharing bool

	release  func()
	released bool
}

// NewBundle wraps captured tracks. release stops the underlying capture and
// may be nil.
func NewBundle(tracks []webrtc.TrackLocal, audioOnly bool, release func()) *Bundle {
	return &Bundle{tracks: tracks, audioOnly: audioOnly, release: release}
}

// Tracks returns the captured tracks in acquisition order.
func (b *Bundle) Tracks() []webrtc.TrackLocal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(b.tracks))
	copy(out, b.tracks)
	return out
}

// AudioOnly reports whether video capture was unavailable and the bundle fell
// back to audio.
func (b *Bundle) AudioOnly() bool { return b.audioOnly }

func (b *Bundle) Muted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.muted
}

func (b *Bundle) SetMuted(v bool) {
	b.mu.Lock()
	b.muted = v
	b.mu.Unlock()
}

func (b *Bundle) VideoOff() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.videoOff
}

func (b *Bundle) SetVideoOff(v bool) {
	b.mu.Lock()
	b.videoOff = v
	b.mu.Unlock()
}

func (b *Bundle) ScreenSharing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screenSharing
}

func (b *Bundle) SetScreenSharing(v bool) {
	b.mu.Lock()
	b.screenSharing = v
	b.mu.Unlock()
}

// Release stops the underlying capture. Idempotent.
func (b *Bundle) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	release := b.release
	b.mu.Unlock()

	if release != nil {
		release()
	}
}

// RemoteStream aggregates remote tracks as the transport delivers them; it is
// the "combined remote stream" surfaced to the UI and the recorder.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (r *RemoteStream) Add(track *webrtc.TrackRemote) {
	r.mu.Lock()
	r.tracks = append(r.tracks, track)
	r.mu.Unlock()
}

func (r *RemoteStream) Tracks() []*webrtc.TrackRemote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(r.tracks))
	copy(out, r.tracks)
	return out
}

func (r *RemoteStream) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tracks)
}
