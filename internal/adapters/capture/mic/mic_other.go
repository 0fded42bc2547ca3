//go:build !linux

package mic

import (
	"context"
	"errors"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

var errNoDriver = errors.New("no microphone driver on this platform")

type Capturer struct {
	log zerolog.Logger
}

func New(logger zerolog.Logger) (*Capturer, error) {
	return &Capturer{log: logger.With().Str("module", "capture.mic").Logger()}, nil
}

func (c *Capturer) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *Capturer) CaptureAudio(context.Context, domain.AudioConstraints) ([]core.LocalTrack, error) {
	c.log.Warn().Msg("microphone capture requires linux")
	return nil, errNoDriver
}
