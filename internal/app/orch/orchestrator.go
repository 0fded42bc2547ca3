package orch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dkeye/p2pcall/internal/app"
	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SessionFactory builds an uninitialized session for a call id.
type SessionFactory func(id domain.CallID) core.CallSession

// CallInfo is a read-only view for APIs.
type CallInfo struct {
	CallID domain.CallID          `json:"callId"`
	Role   string                 `json:"role"`
	State  domain.ConnectionState `json:"state"`
	Muted  bool                   `json:"muted"`
}

// Orchestrator is the call-initiation flow: it creates sessions, routes
// signaling to them and applies the fallback policy to their state changes.
type Orchestrator struct {
	Registry   *app.Registry
	Policy     app.Policy
	NewSession SessionFactory

	// OnFallback fires after a session was hung up so the host can retry on the SFU path.
	OnFallback func(id domain.CallID, state domain.ConnectionState)
	// OnRemoteStream fires once per call, when remote audio first arrives.
	OnRemoteStream func(id domain.CallID, stream *core.RemoteStream)
	// OnHangup fires after a session was released, whatever the reason.
	OnHangup func(id domain.CallID)

	autoAnswer atomic.Bool
}

// SetAutoAnswer makes an offer on an unknown call id open a responder session.
// Safe to flip while calls are running.
func (o *Orchestrator) SetAutoAnswer(on bool) { o.autoAnswer.Store(on) }

// StartCall opens an outbound call. An empty id gets a fresh one.
func (o *Orchestrator) StartCall(ctx context.Context, id domain.CallID) (core.CallSession, error) {
	return o.open(ctx, id, domain.RoleInitiator)
}

// AcceptCall prepares the responder side of id and waits for its offer.
func (o *Orchestrator) AcceptCall(ctx context.Context, id domain.CallID) (core.CallSession, error) {
	return o.open(ctx, id, domain.RoleResponder)
}

func (o *Orchestrator) open(ctx context.Context, id domain.CallID, role domain.Role) (core.CallSession, error) {
	if id == "" {
		id = domain.CallID(uuid.NewString())
	}
	logger := log.With().Str("module", "app.orch").Str("call_id", string(id)).Str("role", role.String()).Logger()

	sess := o.NewSession(id)
	unsubscribe := sess.Subscribe(o.observerFor(id))
	if err := o.Registry.Bind(sess, context.CancelFunc(unsubscribe)); err != nil {
		unsubscribe()
		sess.Cleanup()
		return nil, err
	}

	if err := sess.Start(ctx, role); err != nil {
		logger.Error().Err(err).Str("kind", domain.Kind(err)).Msg("start failed")
		// A failed start is always paired with cleanup.
		_ = o.Hangup(id)
		return nil, fmt.Errorf("open %s call %s: %w", role, id, err)
	}
	logger.Info().Msg("call opened")
	return sess, nil
}

// Hangup releases the session of id and forgets it.
func (o *Orchestrator) Hangup(id domain.CallID) error {
	sess, ok := o.Registry.Unbind(id)
	if !ok {
		return fmt.Errorf("hangup %s: %w", id, domain.ErrUnknownCall)
	}
	sess.Cleanup()
	if o.OnHangup != nil {
		o.OnHangup(id)
	}
	log.Info().Str("module", "app.orch").Str("call_id", string(id)).Msg("hung up")
	return nil
}

func (o *Orchestrator) SetMuted(id domain.CallID, muted bool) error {
	sess, ok := o.Registry.GetSession(id)
	if !ok {
		return fmt.Errorf("mute %s: %w", id, domain.ErrUnknownCall)
	}
	sess.SetMuted(muted)
	return nil
}

func (o *Orchestrator) Calls() []CallInfo {
	sessions := o.Registry.Sessions()
	out := make([]CallInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, CallInfo{
			CallID: s.CallID(),
			Role:   s.Role().String(),
			State:  s.ConnectionState(),
			Muted:  s.Muted(),
		})
	}
	return out
}

// Dispatch routes one inbound signaling message.
func (o *Orchestrator) Dispatch(ctx context.Context, msg domain.SignalMessage) error {
	err := o.Registry.Dispatch(ctx, msg)
	if err == nil || !errors.Is(err, domain.ErrUnknownCall) || !o.autoAnswer.Load() || msg.Event != domain.EventOffer {
		return err
	}

	log.Info().Str("module", "app.orch").Str("call_id", string(msg.CallID)).Msg("auto answering offer")
	if _, err := o.AcceptCall(ctx, msg.CallID); err != nil {
		return err
	}
	return o.Registry.Dispatch(ctx, msg)
}

// Close hangs up every call.
func (o *Orchestrator) Close() {
	for _, s := range o.Registry.Sessions() {
		_ = o.Hangup(s.CallID())
	}
}

func (o *Orchestrator) observerFor(id domain.CallID) core.Observer {
	var settled atomic.Bool
	return core.ObserverFuncs{
		RemoteStream: func(stream *core.RemoteStream) {
			log.Info().Str("module", "app.orch").Str("call_id", string(id)).Str("stream_id", stream.ID).Msg("remote audio")
			if o.OnRemoteStream != nil {
				o.OnRemoteStream(id, stream)
			}
		},
		ConnectionState: func(state domain.ConnectionState) {
			// A session is acted on for its first terminal state only.
			if state.Terminal() && !settled.CompareAndSwap(false, true) {
				return
			}
			if o.Policy == nil {
				return
			}
			action := o.Policy.OnConnectionState(id, state)
			if action == app.NoAction {
				return
			}
			// Leave the engine's callback goroutine before closing its connection.
			go o.apply(id, state, action)
		},
	}
}

func (o *Orchestrator) apply(id domain.CallID, state domain.ConnectionState, action app.FallbackAction) {
	log.Warn().Str("module", "app.orch").Str("call_id", string(id)).Str("state", string(state)).Str("action", action.String()).Msg("policy action")
	if err := o.Hangup(id); err != nil {
		// Already hung up by someone else; the fallback was theirs to trigger.
		return
	}
	if action == app.HangupAndFallback && o.OnFallback != nil {
		o.OnFallback(id, state)
	}
}
