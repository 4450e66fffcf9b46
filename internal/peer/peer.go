// Package peer wraps one negotiated peer-to-peer media transport.
//
// A Session is one-to-one with an active call: it owns the pion
// PeerConnection, tracks the local senders so video can be swapped for
// screen-share without renegotiation, and buffers remote ICE candidates that
// arrive before the remote description is set.
package peer

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

var ErrSessionClosed = errors.New("peer: session closed")

// EngineSetup registers codecs on the media engine before the API is built.
// Media capture supplies a codec-selector-backed setup; tests and
// receive-only sessions use RegisterDefaultCodecs.
type EngineSetup func(*webrtc.MediaEngine) error

// NewAPI builds the webrtc API shared by all sessions of one client.
//
// ICE timeouts are generous so a brief NAT/relay hiccup does not terminate an
// established call.
func NewAPI(setup EngineSetup, se webrtc.SettingEngine) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if setup == nil {
		setup = (*webrtc.MediaEngine).RegisterDefaultCodecs
	}
	if err := setup(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}
