package ai

import "errors"

// UpstreamFailureMessage is the generic text reported to callers when the
// provider fails; details stay in the server log.
const UpstreamFailureMessage = "Failed to generate a response. Check server logs for more information."

var (
	// ErrServiceUnavailable means no provider credential is configured.
	ErrServiceUnavailable = errors.New("ai service unavailable")
	// ErrBadRequest marks structurally invalid relay input.
	ErrBadRequest = errors.New("bad request")
	// ErrUpstream wraps provider dispatch and streaming failures.
	ErrUpstream = errors.New("upstream provider error")
)

// RequestError describes why a relay request was rejected. It matches
// ErrBadRequest with errors.Is.
type RequestError struct {
	Reason string
}

func (e *RequestError) Error() string { return e.Reason }

func (e *RequestError) Unwrap() error { return ErrBadRequest }

func badRequest(reason string) error {
	return &RequestError{Reason: reason}
}
