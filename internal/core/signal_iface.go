package core

import (
	"context"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SignalChannel abstracts the real-time messaging transport shared by calls.
// Owned by the adapter; sessions only send on it and watch it.
type SignalChannel interface {
	Connected() bool
	// Send queues msg without blocking.
	Send(msg domain.SignalMessage) error
	// Done is closed once the channel can no longer carry messages.
	Done() <-chan struct{}
}

// SignalHandler consumes the inbound messages of one call.
type SignalHandler interface {
	HandleOffer(ctx context.Context, offer webrtc.SessionDescription) error
	HandleAnswer(ctx context.Context, answer webrtc.SessionDescription) error
	HandleIceCandidate(ctx context.Context, candidate webrtc.ICECandidateInit) error
}

// TokenFunc returns the current auth token.
type TokenFunc func() string
