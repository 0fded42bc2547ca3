package core

import (
	"context"

	"github.com/dkeye/p2pcall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// PeerConnection is the slice of a native WebRTC peer connection a call session drives.
// Handlers may be invoked from engine goroutines.
type PeerConnection interface {
	// OnICECandidate sets a callback for locally gathered candidates.
	// A nil candidate marks the end of gathering.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(domain.ConnectionState))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))

	// AddTrack attaches a local track and returns the sender carrying it.
	AddTrack(LocalTrack) (TrackSender, error)

	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error

	// Close should stop all underlying transport resources.
	Close() error
}

// PeerFactory builds peer connections. A nil factory means the host has no WebRTC engine.
type PeerFactory interface {
	NewPeerConnection(webrtc.Configuration) (PeerConnection, error)
}

// TrackSender carries one local track on the wire.
// Replacing with nil stops sending without renegotiation.
type TrackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// LocalTrack is one captured audio track owned by a session.
type LocalTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	// Local returns the engine-facing track to attach to a peer connection.
	Local() webrtc.TrackLocal
	// Stop releases the capture device. Calling it twice is harmless.
	Stop() error
}

// RemoteTrack is the read-only metadata of an inbound track.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// AudioCapturer acquires audio-only local media.
type AudioCapturer interface {
	CaptureAudio(ctx context.Context, constraints domain.AudioConstraints) ([]LocalTrack, error)
}

// CodecRegistrar registers the codecs its tracks produce on a media engine.
type CodecRegistrar interface {
	RegisterCodecs(*webrtc.MediaEngine) error
}
