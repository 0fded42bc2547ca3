// Package p2p owns one peer-to-peer audio call session: it negotiates a single
// peer connection over an injected signaling channel and republishes the
// transport's state to observers. It never retries or falls back on its own.
package p2p

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// STUNServer is the only ICE server. There is no TURN relay, so symmetric NAT
// pairs will not connect; the SFU path covers them.
const STUNServer = "stun:stun.l.google.com:19302"

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{STUNServer},
			},
		},
	}
}

type Options struct {
	// Peers is the native engine. Nil means WebRTC is unavailable.
	Peers core.PeerFactory
	// Capturer acquires the microphone. Nil means media capture is unavailable.
	Capturer core.AudioCapturer
	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// WebRTC overrides DefaultWebRTCConfig, e.g. to drop STUN on a closed network.
	WebRTC *webrtc.Configuration
}

type localTrack struct {
	track   core.LocalTrack
	sender  core.TrackSender
	enabled bool
}

// TrackState is a read-only view of one local track.
type TrackState struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

var _ core.CallSession = (*Manager)(nil)

// Manager is a P2P call session for one call id.
type Manager struct {
	callID   domain.CallID
	signal   core.SignalChannel
	token    core.TokenFunc // kept for parity with the SFU transport; never called here
	peers    core.PeerFactory
	capturer core.AudioCapturer
	rtcCfg   webrtc.Configuration
	log      zerolog.Logger

	// negotiateMu serializes Start, HandleOffer and HandleAnswer.
	negotiateMu sync.Mutex
	// iceMu keeps remote candidates in receipt order across the deferred queue.
	iceMu sync.Mutex
	// muteMu keeps track replacements in call order.
	muteMu sync.Mutex

	mu            sync.Mutex
	role          domain.Role
	pc            core.PeerConnection
	tracks        []*localTrack
	remote        *core.RemoteStream
	state         domain.ConnectionState
	muted         bool
	remoteSet     bool
	offerSent     bool
	offerApplied  bool
	answerApplied bool
	started       bool
	pending       []webrtc.ICECandidateInit
	closed        bool
	stop          chan struct{}

	obsMu     sync.RWMutex
	observers []observerEntry
	nextObsID int
}

func New(callID domain.CallID, signal core.SignalChannel, token core.TokenFunc, opts Options) *Manager {
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}
	rtcCfg := DefaultWebRTCConfig()
	if opts.WebRTC != nil {
		rtcCfg = *opts.WebRTC
	}
	return &Manager{
		callID:   callID,
		signal:   signal,
		token:    token,
		peers:    opts.Peers,
		capturer: opts.Capturer,
		rtcCfg:   rtcCfg,
		log:      base.With().Str("module", "app.p2p").Str("call_id", string(callID)).Logger(),
		state:    domain.StateNew,
		stop:     make(chan struct{}),
	}
}

func (m *Manager) CallID() domain.CallID { return m.callID }

func (m *Manager) Role() domain.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

func (m *Manager) ConnectionState() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// RemoteStream returns the first remote stream, or nil before any track arrived.
func (m *Manager) RemoteStream() *core.RemoteStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remote
}

// Initialize sets the session up and reports success. Every failure is logged,
// never returned; a false result must still be followed by Cleanup.
func (m *Manager) Initialize(ctx context.Context, isInitiator bool) bool {
	if err := m.Start(ctx, domain.RoleFor(isInitiator)); err != nil {
		m.log.Error().Err(err).Str("kind", domain.Kind(err)).Bool("initiator", isInitiator).Msg("initialize failed")
		return false
	}
	return true
}

// Start is Initialize with the failure cause.
func (m *Manager) Start(ctx context.Context, role domain.Role) error {
	if role != domain.RoleInitiator && role != domain.RoleResponder {
		return fmt.Errorf("start with role %s: %w", role, domain.ErrUnexpectedSignal)
	}

	m.negotiateMu.Lock()
	defer m.negotiateMu.Unlock()

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return domain.ErrClosed
	case m.started:
		m.mu.Unlock()
		return domain.ErrAlreadyInitialized
	}
	m.started = true
	m.mu.Unlock()

	if m.peers == nil {
		return fmt.Errorf("%w: no peer connection engine", domain.ErrUnsupportedEnvironment)
	}
	if m.capturer == nil {
		return fmt.Errorf("%w: no media capture", domain.ErrUnsupportedEnvironment)
	}
	m.mu.Lock()
	m.role = role
	m.mu.Unlock()

	pc, err := m.peers.NewPeerConnection(m.rtcCfg)
	if err != nil {
		return fmt.Errorf("%w: create peer connection: %w", domain.ErrUnsupportedEnvironment, err)
	}
	// Handlers go in before media so no early event is lost.
	m.bindPeerHandlers(pc)
	if !m.adoptPeer(pc) {
		_ = pc.Close()
		return domain.ErrClosed
	}
	if m.signal != nil {
		go m.watchSignal()
	}
	m.log.Info().Str("role", role.String()).Msg("peer connection created")

	if err := ctx.Err(); err != nil {
		return err
	}
	tracks, err := m.capturer.CaptureAudio(ctx, domain.VoiceConstraints())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, err)
	}
	if err := m.attachTracks(pc, tracks); err != nil {
		return err
	}

	if role == domain.RoleInitiator {
		return m.createOffer(pc)
	}
	m.log.Info().Msg("awaiting offer")
	return nil
}

func (m *Manager) adoptPeer(pc core.PeerConnection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.pc = pc
	return true
}

func (m *Manager) bindPeerHandlers(pc core.PeerConnection) {
	pc.OnICECandidate(m.onLocalCandidate)

	pc.OnTrack(func(track core.RemoteTrack) {
		m.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		m.mu.Lock()
		if m.closed || m.remote != nil {
			m.mu.Unlock()
			return
		}
		stream := &core.RemoteStream{ID: track.StreamID(), Track: track}
		m.remote = stream
		m.mu.Unlock()

		m.notifyRemoteStream(stream)
	})

	pc.OnConnectionStateChange(func(s domain.ConnectionState) {
		m.publishState(s)
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		m.log.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
}

// publishState records and republishes a transport state. Post-cleanup firings are dropped.
func (m *Manager) publishState(s domain.ConnectionState) {
	m.mu.Lock()
	if m.closed || m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	m.mu.Unlock()

	m.log.Info().Str("from", string(prev)).Str("to", string(s)).Msg("connection state")
	m.notifyConnectionState(s)
}

// watchSignal treats an externally closed signaling channel as a failed connection.
func (m *Manager) watchSignal() {
	select {
	case <-m.stop:
	case <-m.signal.Done():
		m.log.Warn().Msg("signaling channel closed")
		m.publishState(domain.StateFailed)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
