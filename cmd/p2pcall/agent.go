package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/p2pcall/internal/adapters/capture/mic"
	"github.com/dkeye/p2pcall/internal/adapters/capture/silence"
	router "github.com/dkeye/p2pcall/internal/adapters/http"
	"github.com/dkeye/p2pcall/internal/adapters/rtc"
	wssignal "github.com/dkeye/p2pcall/internal/adapters/signal"
	"github.com/dkeye/p2pcall/internal/app"
	"github.com/dkeye/p2pcall/internal/app/orch"
	"github.com/dkeye/p2pcall/internal/app/p2p"
	"github.com/dkeye/p2pcall/internal/app/playout"
	"github.com/dkeye/p2pcall/internal/config"
	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
)

type mediaSource interface {
	core.AudioCapturer
	core.CodecRegistrar
}

func newMediaSource(cfg *config.Config) (mediaSource, error) {
	if cfg.MediaSource == config.MediaSilence {
		return silence.New(log.Logger), nil
	}
	return mic.New(log.Logger)
}

func runAgent(parent context.Context, flags *pflag.FlagSet) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(flags)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setLogLevel(cfg.Mode)

	media, err := newMediaSource(cfg)
	if err != nil {
		return fmt.Errorf("media source %s: %w", cfg.MediaSource, err)
	}
	engine, err := rtc.NewEngine(media, log.Logger, rtc.WithICETimeouts(30*time.Second, 120*time.Second, 2*time.Second))
	if err != nil {
		return fmt.Errorf("webrtc engine: %w", err)
	}

	relays := playout.NewRelayManager()
	o := &orch.Orchestrator{
		Registry:   app.NewRegistry(),
		Policy:     app.SimplePolicy{},
		OnHangup:   relays.StopRelay,
		OnFallback: func(id domain.CallID, state domain.ConnectionState) {
			log.Warn().Str("call_id", string(id)).Str("state", string(state)).Msg("p2p call lost, hand over to the SFU path")
		},
		OnRemoteStream: func(id domain.CallID, stream *core.RemoteStream) {
			playRemote(ctx, relays, cfg.RecordDir, id, stream)
		},
	}

	o.SetAutoAnswer(cfg.AutoAnswer)
	// auto_answer and mode apply live; everything else needs a restart.
	if err := config.Watch(ctx, config.FileName(flags), flags, func(next *config.Config) {
		o.SetAutoAnswer(next.AutoAnswer)
		setLogLevel(next.Mode)
		log.Info().Bool("auto_answer", next.AutoAnswer).Str("mode", next.Mode).Msg("config reloaded")
	}); err != nil {
		log.Warn().Err(err).Msg("config hot reload disabled")
	}

	// Frames are queued until the orchestrator is fully wired; the read pump
	// keeps their order.
	inbound := make(chan domain.SignalMessage, cfg.SendBuffer)
	token := core.TokenFunc(func() string { return cfg.Token })
	channel, err := wssignal.Dial(ctx, cfg.SignalURL, token, func(ctx context.Context, msg domain.SignalMessage) {
		select {
		case inbound <- msg:
		case <-ctx.Done():
		}
	}, wssignal.Options{
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
		SendBuffer: cfg.SendBuffer,
		RateLimit:  cfg.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("signaling %s: %w", cfg.SignalURL, err)
	}

	o.NewSession = func(id domain.CallID) core.CallSession {
		return p2p.New(id, channel, token, p2p.Options{Peers: engine, Capturer: media})
	}
	go route(ctx, o, inbound)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.SetupRouter(cfg, o, relays),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("p2pcall control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	var lost error
	select {
	case <-ctx.Done():
	case <-channel.Done():
		lost = fmt.Errorf("signaling connection lost: %w", domain.ErrTransportUnavailable)
		log.Error().Err(lost).Msg("signaling")
	}

	log.Info().Msg("Shutting down")
	o.Close()
	channel.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return lost
}

func setLogLevel(mode string) {
	if mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// playRemote drains an inbound track through a relay and, when dir is set,
// records it as Ogg/Opus.
func playRemote(ctx context.Context, relays *playout.RelayManager, dir string, id domain.CallID, stream *core.RemoteStream) {
	src, ok := stream.Track.(playout.RTPReader)
	if !ok {
		return
	}
	relays.StartRelay(ctx, id, src)
	if dir == "" {
		return
	}
	w, path, err := playout.NewOggRecorder(dir, id)
	if err != nil {
		log.Error().Err(err).Str("call_id", string(id)).Msg("recorder")
		return
	}
	if relays.AddSink(id, "recorder", w) {
		log.Info().Str("call_id", string(id)).Str("file", path).Msg("recording remote audio")
	} else {
		_ = w.Close()
	}
}

func route(ctx context.Context, o *orch.Orchestrator, inbound <-chan domain.SignalMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			if err := o.Dispatch(ctx, msg); err != nil {
				log.Warn().Err(err).Str("kind", domain.Kind(err)).Str("call_id", string(msg.CallID)).
					Str("event", string(msg.Event)).Msg("signal rejected")
			}
		}
	}
}
