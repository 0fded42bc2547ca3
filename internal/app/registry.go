package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.CallSession
	Cancel  context.CancelFunc
}

// Registry routes inbound signaling to the session that owns its call id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.CallID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.CallID]*sessionEntry),
	}
}

// Bind registers sess under its call id. It fails if the id is taken.
func (r *Registry) Bind(sess core.CallSession, cancel context.CancelFunc) error {
	id := sess.CallID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("bind %s: %w", id, domain.ErrDuplicateCall)
	}
	r.sessions[id] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("bound session")
	return nil
}

func (r *Registry) GetSession(id domain.CallID) (core.CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind removes the session and cancels its context. It reports whether one was bound.
func (r *Registry) Unbind(id domain.CallID) (core.CallSession, bool) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("call_id", string(id)).Msg("unbind session")
	return e.Session, true
}

// Sessions returns every bound session ordered by call id.
func (r *Registry) Sessions() []core.CallSession {
	r.mu.RLock()
	out := make([]core.CallSession, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.Session)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CallID() < out[j].CallID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Dispatch hands msg to its session. Handler errors are returned as is so the
// caller decides whether to tear the call down.
func (r *Registry) Dispatch(ctx context.Context, msg domain.SignalMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("dispatch %s: %w", msg.Event, err)
	}
	sess, ok := r.GetSession(msg.CallID)
	if !ok {
		return fmt.Errorf("dispatch %s for %s: %w", msg.Event, msg.CallID, domain.ErrUnknownCall)
	}

	switch msg.Event {
	case domain.EventOffer:
		return sess.HandleOffer(ctx, *msg.Offer)
	case domain.EventAnswer:
		return sess.HandleAnswer(ctx, *msg.Answer)
	case domain.EventICECandidate:
		return sess.HandleIceCandidate(ctx, *msg.Candidate)
	default:
		return domain.ErrUnknownEvent
	}
}
