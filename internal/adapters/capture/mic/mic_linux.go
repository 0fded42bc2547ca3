//go:build linux

package mic

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type Capturer struct {
	selector *mediadevices.CodecSelector
	log      zerolog.Logger
}

func New(logger zerolog.Logger) (*Capturer, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}
	selector := mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams))
	return &Capturer{
		selector: selector,
		log:      logger.With().Str("module", "capture.mic").Logger(),
	}, nil
}

// RegisterCodecs registers the Opus encoder the captured tracks produce.
func (c *Capturer) RegisterCodecs(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

func (c *Capturer) CaptureAudio(ctx context.Context, constraints domain.AudioConstraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The malgo driver has no processing props; the request is only recorded.
	c.log.Debug().
		Bool("echo_cancellation", constraints.EchoCancellation).
		Bool("noise_suppression", constraints.NoiseSuppression).
		Bool("auto_gain_control", constraints.AutoGainControl).
		Msg("audio processing requested")

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		Codec: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	var out []core.LocalTrack
	for _, t := range stream.GetAudioTracks() {
		id := t.ID()
		t.OnEnded(func(err error) {
			if err != nil {
				c.log.Warn().Err(err).Str("track", id).Msg("microphone track ended")
			}
		})
		out = append(out, &track{t: t})
	}
	if len(out) == 0 {
		return nil, errors.New("no microphone track")
	}
	c.log.Info().Int("tracks", len(out)).Msg("microphone captured")
	return out, nil
}

type track struct {
	t mediadevices.Track
}

func (m *track) ID() string                { return m.t.ID() }
func (m *track) Kind() webrtc.RTPCodecType { return m.t.Kind() }
func (m *track) Local() webrtc.TrackLocal  { return m.t }
func (m *track) Stop() error               { return m.t.Close() }
