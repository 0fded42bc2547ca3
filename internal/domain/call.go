// Package domain contains call entities and the error kinds shared across layers.
package domain

// CallID correlates one P2P session with its signaling messages.
type CallID string

type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

func RoleFor(isInitiator bool) Role {
	if isInitiator {
		return RoleInitiator
	}
	return RoleResponder
}

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// ConnectionState mirrors the transport's peer connection state.
type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// Terminal reports whether no further transition is expected without a new session.
func (s ConnectionState) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// AudioConstraints are the processing hints requested from the capture device.
type AudioConstraints struct {
	EchoCancellation bool `json:"echoCancellation"`
	NoiseSuppression bool `json:"noiseSuppression"`
	AutoGainControl  bool `json:"autoGainControl"`
}

// VoiceConstraints requests every processing stage a 1:1 voice call wants.
func VoiceConstraints() AudioConstraints {
	return AudioConstraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}
