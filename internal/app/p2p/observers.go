package p2p

import (
	"github.com/dkeye/p2pcall/internal/core"
	"github.com/dkeye/p2pcall/internal/domain"
)

type observerEntry struct {
	id  int
	obs core.Observer
}

// Subscribe registers an observer and returns the func that removes it.
// Several observers can be registered; each is notified in registration order.
func (m *Manager) Subscribe(obs core.Observer) func() {
	m.obsMu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers = append(m.observers, observerEntry{id: id, obs: obs})
	m.obsMu.Unlock()

	return func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		for i, e := range m.observers {
			if e.id == id {
				m.observers = append(m.observers[:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) snapshotObservers() []core.Observer {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	out := make([]core.Observer, len(m.observers))
	for i, e := range m.observers {
		out[i] = e.obs
	}
	return out
}

func (m *Manager) notifyRemoteStream(s *core.RemoteStream) {
	for _, o := range m.snapshotObservers() {
		o.OnRemoteStream(s)
	}
}

func (m *Manager) notifyConnectionState(s domain.ConnectionState) {
	for _, o := range m.snapshotObservers() {
		if m.isClosed() {
			return
		}
		o.OnConnectionStateChange(s)
	}
}
