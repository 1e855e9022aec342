package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Cause classifies why a connect attempt failed.
type Cause string

const (
	CauseUnreachable  Cause = "unreachable"  // network error before a handshake response
	CauseUnauthorized Cause = "unauthorized" // credential rejected (401/403)
	CauseRejected     Cause = "rejected"     // peer refused the session (other non-101 status)
	CauseTimeout      Cause = "timeout"
	CauseCanceled     Cause = "canceled"
)

// ConnectError is returned by Connect for every failed attempt.
type ConnectError struct {
	Cause      Cause
	StatusCode int // handshake status, 0 if none was received
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream connect %s (status %d): %v", e.Cause, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream connect %s: %v", e.Cause, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CauseOf returns the connect failure cause of err, or "" if err is not a
// ConnectError.
func CauseOf(err error) Cause {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Cause
	}
	return ""
}

func classify(ctx context.Context, resp *http.Response, err error) *ConnectError {
	ce := &ConnectError{Err: err}
	if resp != nil {
		ce.StatusCode = resp.StatusCode
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		ce.Cause = CauseTimeout
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		ce.Cause = CauseCanceled
	case ce.StatusCode == http.StatusUnauthorized || ce.StatusCode == http.StatusForbidden:
		ce.Cause = CauseUnauthorized
	case ce.StatusCode != 0:
		ce.Cause = CauseRejected
	default:
		ce.Cause = CauseUnreachable
	}
	return ce
}
