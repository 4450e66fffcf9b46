//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Capturer opens local devices through pion/mediadevices (V4L2 camera, malgo
// microphone, X11 screen) encoding VP8 and Opus.
type Capturer struct {
	selector *mediadevices.CodecSelector
	log      *slog.Logger
}

func NewCapturer(log *slog.Logger) (*Capturer, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &Capturer{selector: selector, log: log}, nil
}

// EngineSetup registers the capture codecs on a peer media engine.
func (c *Capturer) EngineSetup(engine *webrtc.MediaEngine) error {
	c.selector.Populate(engine)
	return nil
}

func videoConstraints(mt *mediadevices.MediaTrackConstraints) {
	// Raw formats only. MJPEG camera nodes can produce malformed frames
	// that poison the VP8 encoder.
	mt.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	mt.Width = prop.IntRanged{Max: 1280}
	mt.Height = prop.IntRanged{Max: 720}
}

// Acquire captures camera and microphone. A unit GetUserMedia fails if either
// device cannot be opened, so a failed video+audio attempt falls back to
// audio-only before the whole acquisition is reported as failed.
func (c *Capturer) Acquire(ctx context.Context) (*Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(mediadevices.EnumerateDevices()) == 0 {
		return nil, &Error{Kind: KindNoDevice, Err: fmt.Errorf("no capture devices enumerated")}
	}

	attempts := []struct {
		video bool
		label string
	}{
		{true, "video+audio"},
		{false, "audio-only"},
	}

	var firstErr *Error
	for _, a := range attempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		if a.video {
			constraints.Video = videoConstraints
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			classified := Classify(err)
			c.log.Warn("media capture attempt failed",
				"attempt", a.label, "kind", classified.Kind, "err", err)
			if firstErr == nil || classified.Kind == KindPermissionDenied {
				firstErr = classified
			}
			continue
		}

		mdTracks := stream.GetTracks()
		tracks := make([]webrtc.TrackLocal, 0, len(mdTracks))
		for _, track := range mdTracks {
			track.OnEnded(func(err error) {
				if err != nil {
					c.log.Warn("local track ended", "track", track.ID(), "err", err)
				}
			})
			tracks = append(tracks, track)
		}

		c.log.Info("local media captured", "attempt", a.label, "tracks", len(tracks))
		release := func() {
			for _, t := range mdTracks {
				t.Close()
			}
		}
		return NewBundle(tracks, !a.video, release), nil
	}

	if firstErr == nil {
		firstErr = &Error{Kind: KindUnknown}
	}
	return nil, firstErr
}

// ScreenTrack opens a display capture video track for screen sharing.
// onEnded fires when the capture stops outside the client.
func (c *Capturer) ScreenTrack(ctx context.Context, onEnded func()) (webrtc.TrackLocal, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
	constraints.Video = func(_ *mediadevices.MediaTrackConstraints) {}

	stream, err := mediadevices.GetDisplayMedia(constraints)
	if err != nil {
		return nil, nil, Classify(err)
	}

	videos := stream.GetVideoTracks()
	if len(videos) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, nil, &Error{Kind: KindNoDevice, Err: fmt.Errorf("capture returned no video track")}
	}

	track := videos[0]
	track.OnEnded(func(err error) {
		if err != nil {
			c.log.Warn("screen track ended", "err", err)
		}
		if onEnded != nil {
			onEnded()
		}
	})
	release := func() {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
	}
	return track, release, nil
}
