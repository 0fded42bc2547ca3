package p2p

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	mgr      *Manager
	factory  *fakeFactory
	capturer *fakeCapturer
	signal   *fakeSignal
	logs     *bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		factory:  &fakeFactory{},
		capturer: &fakeCapturer{tracks: []*fakeTrack{newFakeTrack("mic-0")}},
		signal:   newFakeSignal(),
		logs:     &bytes.Buffer{},
	}
	logger := zerolog.New(h.logs)
	h.mgr = New("call-1", h.signal, func() string { return "token" }, Options{
		Peers:    h.factory,
		Capturer: h.capturer,
		Logger:   &logger,
	})
	t.Cleanup(h.mgr.Cleanup)
	return h
}

func (h *harness) peer(t *testing.T) *fakePeer {
	t.Helper()
	require.Len(t, h.factory.peers, 1, "exactly one peer connection per session")
	return h.factory.peers[0]
}

func TestInitiatorSendsExactlyOneOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.mgr.Initialize(ctx, true))

	offers := h.signal.byEvent(domain.EventOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.CallID("call-1"), offers[0].CallID)
	require.NotNil(t, offers[0].Offer)
	assert.Equal(t, webrtc.SDPTypeOffer, offers[0].Offer.Type)

	pc := h.peer(t)
	assert.Equal(t, 1, pc.offers)
	require.NotNil(t, pc.local)
	assert.Equal(t, *offers[0].Offer, *pc.local)
	assert.Len(t, pc.tracks, 1, "captured track attached before negotiation")
	assert.Equal(t, domain.VoiceConstraints(), h.capturer.constraints)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
	require.NoError(t, h.mgr.HandleAnswer(ctx, answer))
	assert.Equal(t, answer, *pc.remote)

	err := h.mgr.HandleAnswer(ctx, answer)
	assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)

	assert.Empty(t, h.signal.byEvent(domain.EventAnswer))
	assert.Len(t, h.signal.byEvent(domain.EventOffer), 1)
}

func TestResponderAnswersSingleOffer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.True(t, h.mgr.Initialize(ctx, false))
	assert.Empty(t, h.signal.sent, "responder waits for an offer")

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
	require.NoError(t, h.mgr.HandleOffer(ctx, offer))

	pc := h.peer(t)
	assert.Equal(t, offer, *pc.remote)
	assert.Equal(t, 0, pc.offers, "responder never creates an offer")

	answers := h.signal.byEvent(domain.EventAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.CallID("call-1"), answers[0].CallID)
	assert.Equal(t, *pc.local, *answers[0].Answer)

	err := h.mgr.HandleOffer(ctx, offer)
	assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)
	assert.Len(t, h.signal.byEvent(domain.EventAnswer), 1)
	assert.Equal(t, 1, pc.answers)
}

func TestRoleViolationsAreRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("offer on initiator", func(t *testing.T) {
		h := newHarness(t)
		require.True(t, h.mgr.Initialize(ctx, true))
		err := h.mgr.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
		assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)
		assert.Nil(t, h.peer(t).remote)
	})

	t.Run("answer on responder", func(t *testing.T) {
		h := newHarness(t)
		require.True(t, h.mgr.Initialize(ctx, false))
		err := h.mgr.HandleAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
		assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)
	})

	t.Run("answer before offer was sent", func(t *testing.T) {
		h := newHarness(t)
		h.signal.connected = false
		require.False(t, h.mgr.Initialize(ctx, true))
		err := h.mgr.HandleAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"})
		assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)
	})

	t.Run("offer before initialize", func(t *testing.T) {
		h := newHarness(t)
		err := h.mgr.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"})
		assert.ErrorIs(t, err, domain.ErrUnexpectedSignal)
	})

	t.Run("second initialize", func(t *testing.T) {
		h := newHarness(t)
		require.True(t, h.mgr.Initialize(ctx, false))
		assert.ErrorIs(t, h.mgr.Start(ctx, domain.RoleInitiator), domain.ErrAlreadyInitialized)
		assert.Len(t, h.factory.peers, 1)
	})
}

func TestInitializeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no media capture", func(t *testing.T) {
		h := newHarness(t)
		h.mgr.capturer = nil

		assert.False(t, h.mgr.Initialize(ctx, true))
		assert.Empty(t, h.signal.sent, "no offer is ever sent")
		assert.Empty(t, h.factory.peers, "no peer connection is created")
		assert.Contains(t, h.logs.String(), "unsupported_environment")

		assert.NotPanics(t, h.mgr.Cleanup)
		assert.NotPanics(t, h.mgr.Cleanup)
	})

	t.Run("no webrtc engine", func(t *testing.T) {
		h := newHarness(t)
		h.mgr.peers = nil
		err := h.mgr.Start(ctx, domain.RoleInitiator)
		assert.ErrorIs(t, err, domain.ErrUnsupportedEnvironment)
		assert.Equal(t, domain.RoleUnknown, h.mgr.Role(), "a session that never started has no role")
		assert.ErrorIs(t, h.mgr.Start(ctx, domain.RoleInitiator), domain.ErrAlreadyInitialized)
	})

	t.Run("microphone denied", func(t *testing.T) {
		h := newHarness(t)
		denied := errors.New("permission denied by user")
		h.capturer.err = denied

		err := h.mgr.Start(ctx, domain.RoleInitiator)
		assert.ErrorIs(t, err, domain.ErrMediaAccessDenied)
		assert.ErrorIs(t, err, denied, "underlying reason is preserved")
		assert.Empty(t, h.signal.sent)

		pc := h.peer(t)
		h.mgr.Cleanup()
		assert.Equal(t, 1, pc.closed, "cleanup releases the partially built session")
	})

	t.Run("channel not connected", func(t *testing.T) {
		h := newHarness(t)
		h.signal.connected = false
		err := h.mgr.Start(ctx, domain.RoleInitiator)
		assert.ErrorIs(t, err, domain.ErrTransportUnavailable)
		assert.Empty(t, h.signal.sent)
	})

	t.Run("offer generation fails", func(t *testing.T) {
		h := newHarness(t)
		h.factory.prepare = func(p *fakePeer) { p.offerErr = errors.New("codec mismatch") }
		assert.False(t, h.mgr.Initialize(ctx, true))
		assert.Contains(t, h.logs.String(), "negotiation_failed")
		assert.Empty(t, h.signal.sent)
	})
}

func TestEarlyCandidatesAppliedInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One candidate even before the peer connection exists.
	require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(1)))
	require.True(t, h.mgr.Initialize(ctx, false))
	require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(2)))
	require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(3)))

	pc := h.peer(t)
	assert.Empty(t, pc.appliedCandidates(), "nothing applied before the remote description")

	require.NoError(t, h.mgr.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}))
	assert.Equal(t, []string{candidate(1).Candidate, candidate(2).Candidate, candidate(3).Candidate}, pc.appliedCandidates())

	require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(4)))
	assert.Equal(t, candidate(4).Candidate, pc.appliedCandidates()[3], "late candidates apply directly")
}

func TestEarlyCandidatesOnInitiator(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.True(t, h.mgr.Initialize(ctx, true))

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(i)))
	}
	pc := h.peer(t)
	assert.Empty(t, pc.appliedCandidates())

	require.NoError(t, h.mgr.HandleAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}))
	assert.Equal(t, []string{candidate(1).Candidate, candidate(2).Candidate, candidate(3).Candidate}, pc.appliedCandidates())
}

func TestBadDeferredCandidateDoesNotDropOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.factory.prepare = func(p *fakePeer) { p.badCandidate = candidate(2).Candidate }
	require.True(t, h.mgr.Initialize(ctx, false))

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.mgr.HandleIceCandidate(ctx, candidate(i)))
	}
	require.NoError(t, h.mgr.HandleOffer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}))

	assert.Equal(t, []string{candidate(1).Candidate, candidate(3).Candidate}, h.peer(t).appliedCandidates())
	assert.Contains(t, h.logs.String(), "deferred candidate rejected")
}

func TestLocalCandidatesForwarded(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.mgr.Initialize(context.Background(), true))
	pc := h.peer(t)

	c := candidate(7)
	pc.onICE(&c)
	pc.onICE(nil)

	sent := h.signal.byEvent(domain.EventICECandidate)
	require.Len(t, sent, 1, "end-of-candidates marker is not forwarded")
	assert.Equal(t, domain.CallID("call-1"), sent[0].CallID)
	assert.Equal(t, c, *sent[0].Candidate)
}

func TestMuteRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.capturer.tracks = append(h.capturer.tracks, newFakeTrack("mic-1"))

	h.mgr.SetMuted(true)
	assert.False(t, h.mgr.Muted(), "muting before initialize is a no-op")

	require.True(t, h.mgr.Initialize(context.Background(), true))
	pc := h.peer(t)
	pc.onState(domain.StateConnected)
	stateBefore := h.mgr.ConnectionState()

	h.mgr.SetMuted(true)
	h.mgr.SetMuted(true)
	for _, ts := range h.mgr.Tracks() {
		assert.False(t, ts.Enabled, ts.ID)
	}
	for _, s := range pc.senders {
		require.Len(t, s.replaced, 1)
		assert.Nil(t, s.replaced[0])
	}

	h.mgr.SetMuted(false)
	for _, ts := range h.mgr.Tracks() {
		assert.True(t, ts.Enabled, ts.ID)
	}
	for i, s := range pc.senders {
		require.Len(t, s.replaced, 2)
		assert.Equal(t, pc.tracks[i].Local(), s.replaced[1])
	}

	assert.Equal(t, stateBefore, h.mgr.ConnectionState())
	assert.Equal(t, 1, pc.offers, "no renegotiation")
	assert.Len(t, h.signal.byEvent(domain.EventOffer), 1)
}

func TestMuteWhileTracksAttach(t *testing.T) {
	h := newHarness(t)
	entered := make(chan struct{}, 1)
	gate := make(chan struct{})
	h.factory.prepare = func(p *fakePeer) {
		p.addEntered = entered
		p.addGate = gate
	}

	started := make(chan error, 1)
	go func() { started <- h.mgr.Start(context.Background(), domain.RoleResponder) }()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("AddTrack never reached")
	}

	h.mgr.SetMuted(true)
	close(gate)
	require.NoError(t, <-started)

	assert.True(t, h.mgr.Muted())
	assert.Equal(t, []TrackState{{ID: "mic-0", Enabled: false}}, h.mgr.Tracks())
	pc := h.peer(t)
	require.Len(t, pc.senders, 1)
	assert.Equal(t, []webrtc.TrackLocal{nil}, pc.senders[0].replaced, "the late sender is muted on attach")

	h.mgr.SetMuted(false)
	assert.Equal(t, []webrtc.TrackLocal{nil, pc.tracks[0].Local()}, pc.senders[0].replaced)
}

func TestCleanupIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	mic := h.capturer.tracks[0]
	require.True(t, h.mgr.Initialize(ctx, true))
	pc := h.peer(t)
	pc.onTrack(fakeRemote{id: "r1", stream: "s1"})
	require.NotNil(t, h.mgr.RemoteStream())

	for i := 0; i < 3; i++ {
		h.mgr.Cleanup()
	}

	assert.Equal(t, 1, mic.stopCount())
	assert.Equal(t, 1, pc.closed)
	assert.Empty(t, h.mgr.Tracks())
	assert.Nil(t, h.mgr.RemoteStream())
	assert.Equal(t, domain.StateClosed, h.mgr.ConnectionState())

	assert.ErrorIs(t, h.mgr.HandleAnswer(ctx, webrtc.SessionDescription{}), domain.ErrClosed)
	assert.ErrorIs(t, h.mgr.HandleIceCandidate(ctx, candidate(1)), domain.ErrClosed)
	assert.ErrorIs(t, h.mgr.Start(ctx, domain.RoleInitiator), domain.ErrClosed)

	c := candidate(9)
	pc.onICE(&c)
	assert.Empty(t, h.signal.byEvent(domain.EventICECandidate), "no signaling after cleanup")
}

func TestCleanupBeforeInitialize(t *testing.T) {
	h := newHarness(t)
	h.mgr.Cleanup()
	assert.False(t, h.mgr.Initialize(context.Background(), true))
	assert.Empty(t, h.factory.peers)
}

func TestObservers(t *testing.T) {
	h := newHarness(t)
	first := &recordingObserver{}
	second := &recordingObserver{}
	h.mgr.Subscribe(first)
	unsubscribe := h.mgr.Subscribe(second)

	require.True(t, h.mgr.Initialize(context.Background(), false))
	pc := h.peer(t)

	pc.onTrack(fakeRemote{id: "r1", stream: "s1"})
	pc.onTrack(fakeRemote{id: "r2", stream: "s1"})
	pc.onState(domain.StateConnecting)
	unsubscribe()
	pc.onState(domain.StateConnected)
	pc.onState(domain.StateDisconnected)
	pc.onState(domain.StateFailed)

	streams, states := first.snapshot()
	require.Len(t, streams, 1, "remote stream fires once")
	assert.Equal(t, "s1", streams[0].ID)
	assert.Equal(t, []domain.ConnectionState{
		domain.StateConnecting, domain.StateConnected, domain.StateDisconnected, domain.StateFailed,
	}, states)

	_, secondStates := second.snapshot()
	assert.Equal(t, []domain.ConnectionState{domain.StateConnecting}, secondStates)

	h.mgr.Cleanup()
	pc.onState(domain.StateClosed)
	_, states = first.snapshot()
	assert.Len(t, states, 4, "post-cleanup firings are ignored")
}

func TestClosedSignalChannelPublishesFailed(t *testing.T) {
	h := newHarness(t)
	obs := &recordingObserver{}
	h.mgr.Subscribe(obs)
	require.True(t, h.mgr.Initialize(context.Background(), false))

	close(h.signal.done)

	require.Eventually(t, func() bool {
		return h.mgr.ConnectionState() == domain.StateFailed
	}, time.Second, 5*time.Millisecond)
	_, states := obs.snapshot()
	assert.Equal(t, []domain.ConnectionState{domain.StateFailed}, states)
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.mgr.HandleIceCandidate(ctx, candidate(1)), context.Canceled)
	assert.ErrorIs(t, h.mgr.Start(ctx, domain.RoleResponder), context.Canceled)
}
