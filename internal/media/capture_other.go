//go:build !linux || !cgo

package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"
)

// Capturer is a stub on platforms without wired capture drivers. Calls can
// still be received; local capture reports no devices.
type Capturer struct {
	log *slog.Logger
}

func NewCapturer(log *slog.Logger) (*Capturer, error) {
	return &Capturer{log: log}, nil
}

func (c *Capturer) EngineSetup(engine *webrtc.MediaEngine) error {
	return engine.RegisterDefaultCodecs()
}

func (c *Capturer) Acquire(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, &Error{Kind: KindNoDevice, Err: fmt.Errorf("capture not supported on this platform")}
}

func (c *Capturer) ScreenTrack(ctx context.Context, _ func()) (webrtc.TrackLocal, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, &Error{Kind: KindNoDevice, Err: fmt.Errorf("capture not supported on this platform")}
}
