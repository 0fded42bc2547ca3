package rtc

import (
	"fmt"
	"time"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// EngineOption tunes the setting engine shared by every peer connection.
type EngineOption func(*webrtc.SettingEngine)

// WithICETimeouts overrides how long ICE tolerates a silent path before
// reporting disconnected and then failed.
func WithICETimeouts(disconnected, failed, keepAlive time.Duration) EngineOption {
	return func(se *webrtc.SettingEngine) {
		se.SetICETimeouts(disconnected, failed, keepAlive)
	}
}

// WithNet runs ICE over n instead of the host network, e.g. a pion vnet.
// Virtual networks carry no multicast, so mDNS candidates are disabled.
func WithNet(n transport.Net) EngineOption {
	return func(se *webrtc.SettingEngine) {
		se.SetNet(n)
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}
}

// Engine builds pion peer connections that share one API (codecs, interceptors, settings).
type Engine struct {
	api *webrtc.API
	log zerolog.Logger
}

// NewEngine registers the codecs of reg (all defaults when reg is nil) plus the
// default interceptors, and routes pion's own logs into logger.
func NewEngine(reg core.CodecRegistrar, logger zerolog.Logger, opts ...EngineOption) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if reg != nil {
		if err := reg.RegisterCodecs(mediaEngine); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = NewLoggerFactory(logger)
	for _, opt := range opts {
		opt(&se)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)
	return &Engine{api: api, log: logger.With().Str("module", "webrtc").Logger()}, nil
}

func (e *Engine) NewPeerConnection(cfg webrtc.Configuration) (core.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCConnection{pc: pc, log: e.log}, nil
}

// WebRTCConnection adapts *webrtc.PeerConnection to core.PeerConnection.
type WebRTCConnection struct {
	pc  *webrtc.PeerConnection
	log zerolog.Logger
}

var _ core.PeerConnection = (*WebRTCConnection)(nil)

func (c *WebRTCConnection) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			fn(nil)
			return
		}
		ci := cand.ToJSON()
		fn(&ci)
	})
}

func (c *WebRTCConnection) OnTrack(fn func(core.RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (c *WebRTCConnection) OnConnectionStateChange(fn func(domain.ConnectionState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Debug().Str("peer_connection_state", s.String()).Msg("Peer state")
		if state, ok := MapState(s); ok {
			fn(state)
		}
	})
}

func (c *WebRTCConnection) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	c.pc.OnICEConnectionStateChange(fn)
}

// AddTrack attaches the track and drains the sender's RTCP so interceptors keep running.
func (c *WebRTCConnection) AddTrack(t core.LocalTrack) (core.TrackSender, error) {
	sender, err := c.pc.AddTrack(t.Local())
	if err != nil {
		return nil, err
	}
	go c.drainRTCP(sender, t.ID())
	return sender, nil
}

// drainRTCP reads until the sender stops and logs the peer's reception quality.
func (c *WebRTCConnection) drainRTCP(sender *webrtc.RTPSender, trackID string) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			rr, ok := pkt.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}
			for _, r := range rr.Reports {
				c.log.Debug().Str("track_id", trackID).Uint8("fraction_lost", r.FractionLost).
					Uint32("total_lost", r.TotalLost).Uint32("jitter", r.Jitter).Msg("receiver report")
			}
		}
	}
}

func (c *WebRTCConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *WebRTCConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *WebRTCConnection) SetLocalDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(sd)
}

func (c *WebRTCConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(sd)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// RemoteDescription returns the applied remote SDP, or nil.
func (c *WebRTCConnection) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *WebRTCConnection) Close() error {
	return c.pc.Close()
}

// MapState converts a pion state. Unknown has no domain counterpart.
func MapState(s webrtc.PeerConnectionState) (domain.ConnectionState, bool) {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.StateNew, true
	case webrtc.PeerConnectionStateConnecting:
		return domain.StateConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return domain.StateConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return domain.StateDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return domain.StateFailed, true
	case webrtc.PeerConnectionStateClosed:
		return domain.StateClosed, true
	default:
		return "", false
	}
}
