// Package silence produces Opus silence as local audio. It stands in for a
// microphone on headless hosts.
package silence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

// FrameDuration is the packetization interval of the silence track.
const FrameDuration = 20 * time.Millisecond

// opusSilence is one 20 ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

var (
	_ core.AudioCapturer  = (*Capturer)(nil)
	_ core.CodecRegistrar = (*Capturer)(nil)
)

type Capturer struct {
	interval time.Duration
	log      zerolog.Logger
}

func New(logger zerolog.Logger) *Capturer {
	return &Capturer{
		interval: FrameDuration,
		log:      logger.With().Str("module", "capture.silence").Logger(),
	}
}

func (c *Capturer) RegisterCodecs(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

// CaptureAudio returns one Opus track. Processing constraints do not apply to silence.
// The track outlives ctx and runs until Stop.
func (c *Capturer) CaptureAudio(ctx context.Context, _ domain.AudioConstraints) ([]core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio-"+uuid.NewString(), "p2pcall")
	if err != nil {
		return nil, err
	}
	t := &Track{local: local, stop: make(chan struct{}), log: c.log}
	go t.run(c.interval)
	c.log.Debug().Str("track", local.ID()).Msg("silence track started")
	return []core.LocalTrack{t}, nil
}

type Track struct {
	local   *webrtc.TrackLocalStaticSample
	stop    chan struct{}
	once    sync.Once
	written atomic.Int64
	log     zerolog.Logger
}

func (t *Track) ID() string                { return t.local.ID() }
func (t *Track) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeAudio }
func (t *Track) Local() webrtc.TrackLocal  { return t.local }

// Stop ends the sample loop. Safe to call more than once.
func (t *Track) Stop() error {
	t.once.Do(func() { close(t.stop) })
	return nil
}

func (t *Track) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.local.WriteSample(media.Sample{Data: opusSilence, Duration: FrameDuration}); err != nil {
				t.log.Debug().Err(err).Msg("write sample")
				continue
			}
			t.written.Add(1)
		}
	}
}
