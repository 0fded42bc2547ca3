package p2p

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// createOffer runs once, on the initiator, right after media is attached.
func (m *Manager) createOffer(pc core.PeerConnection) error {
	offer, err := pc.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: create offer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: set local offer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := m.send(domain.NewOfferMessage(m.callID, offer)); err != nil {
		return err
	}

	m.mu.Lock()
	m.offerSent = true
	m.mu.Unlock()
	m.log.Info().Msg("offer sent")
	return nil
}

// HandleOffer applies the remote offer and answers it. Only a responder accepts
// an offer, and only once; anything else is rejected with ErrUnexpectedSignal.
func (m *Manager) HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.negotiateMu.Lock()
	defer m.negotiateMu.Unlock()

	m.mu.Lock()
	pc, err := m.activePeerLocked()
	switch {
	case err != nil:
	case m.role != domain.RoleResponder:
		err = fmt.Errorf("offer on %s session: %w", m.role, domain.ErrUnexpectedSignal)
	case m.offerApplied:
		err = fmt.Errorf("duplicate offer: %w", domain.ErrUnexpectedSignal)
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Warn().Err(err).Msg("offer rejected")
		return err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("%w: set remote offer: %w", domain.ErrNegotiationFailed, err)
	}
	m.mu.Lock()
	m.offerApplied = true
	m.mu.Unlock()
	m.flushCandidates(pc)

	answer, err := pc.CreateAnswer()
	if err != nil {
		return fmt.Errorf("%w: create answer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %w", domain.ErrNegotiationFailed, err)
	}
	if err := m.send(domain.NewAnswerMessage(m.callID, answer)); err != nil {
		return err
	}
	m.log.Info().Msg("answer sent")
	return nil
}

// HandleAnswer completes negotiation on the initiator. Media then waits on ICE only.
func (m *Manager) HandleAnswer(ctx context.Context, answer webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.negotiateMu.Lock()
	defer m.negotiateMu.Unlock()

	m.mu.Lock()
	pc, err := m.activePeerLocked()
	switch {
	case err != nil:
	case m.role != domain.RoleInitiator:
		err = fmt.Errorf("answer on %s session: %w", m.role, domain.ErrUnexpectedSignal)
	case !m.offerSent:
		err = fmt.Errorf("answer before offer: %w", domain.ErrUnexpectedSignal)
	case m.answerApplied:
		err = fmt.Errorf("duplicate answer: %w", domain.ErrUnexpectedSignal)
	}
	m.mu.Unlock()
	if err != nil {
		m.log.Warn().Err(err).Msg("answer rejected")
		return err
	}

	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("%w: set remote answer: %w", domain.ErrNegotiationFailed, err)
	}
	m.mu.Lock()
	m.answerApplied = true
	m.mu.Unlock()
	m.flushCandidates(pc)
	m.log.Info().Msg("answer applied")
	return nil
}

// HandleIceCandidate applies a remote candidate, or defers it until a remote
// description exists. Deferred candidates are never dropped.
func (m *Manager) HandleIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.iceMu.Lock()
	defer m.iceMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrClosed
	}
	if m.pc == nil || !m.remoteSet {
		m.pending = append(m.pending, candidate)
		n := len(m.pending)
		m.mu.Unlock()
		m.log.Debug().Int("pending", n).Msg("candidate deferred")
		return nil
	}
	pc := m.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

// flushCandidates marks the remote description as applied and drains the
// deferred queue in receipt order. One bad candidate does not stop the rest.
func (m *Manager) flushCandidates(pc core.PeerConnection) {
	m.iceMu.Lock()
	defer m.iceMu.Unlock()

	m.mu.Lock()
	m.remoteSet = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	applied := 0
	for _, c := range pending {
		if m.isClosed() {
			return
		}
		if err := pc.AddICECandidate(c); err != nil {
			m.log.Warn().Err(err).Str("candidate", c.Candidate).Msg("deferred candidate rejected")
			continue
		}
		applied++
	}
	if len(pending) > 0 {
		m.log.Info().Int("applied", applied).Int("deferred", len(pending)).Msg("deferred candidates flushed")
	}
}

// onLocalCandidate forwards gathered candidates. The end-of-candidates marker stays local.
func (m *Manager) onLocalCandidate(c *webrtc.ICECandidateInit) {
	if c == nil {
		m.log.Debug().Msg("ICE gathering complete")
		return
	}
	if m.isClosed() {
		return
	}
	if err := m.send(domain.NewCandidateMessage(m.callID, *c)); err != nil {
		m.log.Warn().Err(err).Msg("candidate not sent")
	}
}

func (m *Manager) activePeerLocked() (core.PeerConnection, error) {
	if m.closed {
		return nil, domain.ErrClosed
	}
	if m.pc == nil {
		return nil, fmt.Errorf("session not initialized: %w", domain.ErrUnexpectedSignal)
	}
	return m.pc, nil
}

// send checks connectivity at send time; every failure is a TransportUnavailable.
func (m *Manager) send(msg domain.SignalMessage) error {
	if m.signal == nil || !m.signal.Connected() {
		return fmt.Errorf("%w: send %s: not connected", domain.ErrTransportUnavailable, msg.Event)
	}
	if err := m.signal.Send(msg); err != nil {
		if errors.Is(err, domain.ErrTransportUnavailable) {
			return err
		}
		return fmt.Errorf("%w: send %s: %w", domain.ErrTransportUnavailable, msg.Event, err)
	}
	return nil
}
