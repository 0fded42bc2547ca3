package domain

import "github.com/pion/webrtc/v4"

type SignalEvent string

const (
	EventOffer        SignalEvent = "offer"
	EventAnswer       SignalEvent = "answer"
	EventICECandidate SignalEvent = "iceCandidate"
)

// SignalMessage is one frame on the signaling channel.
// Exactly one of Offer, Answer or Candidate is set, matching Event.
type SignalMessage struct {
	Event     SignalEvent                `json:"event"`
	CallID    CallID                     `json:"callId"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

func NewOfferMessage(id CallID, offer webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Event: EventOffer, CallID: id, Offer: &offer}
}

func NewAnswerMessage(id CallID, answer webrtc.SessionDescription) SignalMessage {
	return SignalMessage{Event: EventAnswer, CallID: id, Answer: &answer}
}

func NewCandidateMessage(id CallID, c webrtc.ICECandidateInit) SignalMessage {
	return SignalMessage{Event: EventICECandidate, CallID: id, Candidate: &c}
}

// Validate checks that the payload matching Event is present.
func (m SignalMessage) Validate() error {
	if m.CallID == "" {
		return ErrMissingCallID
	}
	switch m.Event {
	case EventOffer:
		if m.Offer == nil {
			return ErrMissingPayload
		}
	case EventAnswer:
		if m.Answer == nil {
			return ErrMissingPayload
		}
	case EventICECandidate:
		if m.Candidate == nil {
			return ErrMissingPayload
		}
	default:
		return ErrUnknownEvent
	}
	return nil
}
