package core

import (
	"context"

	"github.com/dkeye/p2pcall/internal/domain"
)

// RemoteStream is the first inbound track's containing stream.
type RemoteStream struct {
	ID    string
	Track RemoteTrack
}

// Observer receives session notifications. Methods may be invoked from engine goroutines
// and must not block.
type Observer interface {
	OnRemoteStream(stream *RemoteStream)
	OnConnectionStateChange(state domain.ConnectionState)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	RemoteStream    func(*RemoteStream)
	ConnectionState func(domain.ConnectionState)
}

func (o ObserverFuncs) OnRemoteStream(s *RemoteStream) {
	if o.RemoteStream != nil {
		o.RemoteStream(s)
	}
}

func (o ObserverFuncs) OnConnectionStateChange(s domain.ConnectionState) {
	if o.ConnectionState != nil {
		o.ConnectionState(s)
	}
}

// CallSession is what the registry stores and the orchestrator drives.
type CallSession interface {
	SignalHandler
	CallID() domain.CallID
	Role() domain.Role
	ConnectionState() domain.ConnectionState
	Muted() bool

	Start(ctx context.Context, role domain.Role) error
	SetMuted(muted bool)
	Subscribe(Observer) (unsubscribe func())
	Cleanup()
}
