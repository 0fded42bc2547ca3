package playout

import (
	"context"
	"sync"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/rs/zerolog/log"
)

// RelayManager keeps at most one relay per call.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.CallID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.CallID]*Relay),
	}
}

// StartRelay creates the relay of id and starts draining src.
func (m *RelayManager) StartRelay(ctx context.Context, id domain.CallID, src RTPReader) *Relay {
	logger := log.With().
		Str("module", "app.playout").
		Str("call_id", string(id)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(src, cancel)

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for call")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")
	go func() {
		relay.loop(relayCtx, &logger)
		m.forget(id, relay)
	}()
	return relay
}

// AddSink attaches out to the relay of id. It reports false when id has no
// relay or already has a sink named name.
func (m *RelayManager) AddSink(id domain.CallID, name string, out RTPWriter) bool {
	m.mu.RLock()
	relay, ok := m.relays[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return relay.AddSink(name, out)
}

// RemoveSink marks a sink for deletion; the relay drops it on the next packet.
func (m *RelayManager) RemoveSink(id domain.CallID, name string) {
	m.mu.RLock()
	relay, ok := m.relays[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	relay.mu.RLock()
	s, ok := relay.sinks[name]
	relay.mu.RUnlock()
	if ok {
		s.MarkDelete()
	}
}

// StopRelay stops the relay of id and removes it from the manager.
func (m *RelayManager) StopRelay(id domain.CallID) {
	m.mu.Lock()
	relay, ok := m.relays[id]
	if ok {
		delete(m.relays, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

func (m *RelayManager) HasRelay(id domain.CallID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[id]
	return ok
}

func (m *RelayManager) Stats(id domain.CallID) (Stats, bool) {
	m.mu.RLock()
	relay, ok := m.relays[id]
	m.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return relay.Stats(), true
}

func (m *RelayManager) forget(id domain.CallID, relay *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[id] == relay {
		delete(m.relays, id)
	}
}
