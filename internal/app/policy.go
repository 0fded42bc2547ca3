package app

import "github.com/dkeye/p2pcall/internal/domain"

type FallbackAction int

const (
	NoAction FallbackAction = iota
	Hangup
	HangupAndFallback
)

func (a FallbackAction) String() string {
	switch a {
	case Hangup:
		return "hangup"
	case HangupAndFallback:
		return "hangup_and_fallback"
	default:
		return "none"
	}
}

// Policy decides what the host does when a P2P session reports a state.
// Sessions never retry on their own.
type Policy interface {
	OnConnectionState(id domain.CallID, state domain.ConnectionState) FallbackAction
}

// SimplePolicy gives up on Failed and waits out Disconnected, which ICE may recover from.
type SimplePolicy struct{}

func (SimplePolicy) OnConnectionState(_ domain.CallID, state domain.ConnectionState) FallbackAction {
	if state == domain.StateFailed {
		return HangupAndFallback
	}
	return NoAction
}
