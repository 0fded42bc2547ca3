package domain

import "errors"

// Error kinds. Components wrap them with context; match with errors.Is.
var (
	ErrUnsupportedEnvironment = errors.New("webrtc unsupported in this environment")
	ErrMediaAccessDenied      = errors.New("media access denied")
	ErrTransportUnavailable   = errors.New("signaling transport unavailable")
	ErrNegotiationFailed      = errors.New("negotiation failed")

	ErrUnexpectedSignal   = errors.New("unexpected signal for session state")
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrClosed             = errors.New("session closed")
	ErrUnknownCall        = errors.New("unknown call")
	ErrDuplicateCall      = errors.New("call already registered")
	ErrUnknownEvent       = errors.New("unknown signal event")
	ErrBackpressure       = errors.New("backpressure")
	ErrMissingCallID      = errors.New("missing call id")
	ErrMissingPayload     = errors.New("missing signal payload")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnsupportedEnvironment, "unsupported_environment"},
	{ErrMediaAccessDenied, "media_access_denied"},
	{ErrTransportUnavailable, "transport_unavailable"},
	{ErrNegotiationFailed, "negotiation_failed"},
	{ErrUnexpectedSignal, "unexpected_signal"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrClosed, "closed"},
	{ErrUnknownCall, "unknown_call"},
	{ErrDuplicateCall, "duplicate_call"},
	{ErrUnknownEvent, "unknown_event"},
	{ErrBackpressure, "backpressure"},
	{ErrMissingCallID, "bad_payload"},
	{ErrMissingPayload, "bad_payload"},
}

// Kind returns a stable name for the first error kind err wraps.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
