package relay

import (
	"errors"
	"fmt"
)

// Kind classifies why a session ended, or why a message was flagged.
type Kind string

const (
	KindConnectFailure       Kind = "connect_failure"
	KindBackpressureExceeded Kind = "backpressure_exceeded"
	KindPeerClosed           Kind = "peer_closed"
	KindMalformedMessage     Kind = "malformed_message"
	KindInternalFault        Kind = "internal_fault"
)

// Side names the end of a session an error originated from.
type Side string

const (
	SideDownstream Side = "downstream"
	SideUpstream   Side = "upstream"
	SideRelay      Side = "relay"
)

var (
	// ErrDraining is returned by Accept once the engine stops taking sessions.
	ErrDraining = errors.New("relay: engine is draining")

	// ErrUpstreamNotReady marks pending-buffer overflow while connecting.
	ErrUpstreamNotReady = errors.New("upstream not ready")

	// ErrSessionClosed is the cause recorded when the relay itself closes a
	// session (forced close or shutdown).
	ErrSessionClosed = errors.New("session closed by relay")
)

// Error is a classified session error.
type Error struct {
	Kind Kind
	Side Side
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay: %s (%s): %v", e.Kind, e.Side, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err. Unclassified non-nil errors are internal
// faults.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternalFault
}

// IsFatal reports whether an error of this kind ends the session.
func (k Kind) IsFatal() bool {
	return k != KindMalformedMessage && k != ""
}

func connectFailure(err error) *Error {
	return &Error{Kind: KindConnectFailure, Side: SideUpstream, Err: err}
}

func backpressure(side Side, err error) *Error {
	return &Error{Kind: KindBackpressureExceeded, Side: side, Err: err}
}

func peerClosed(side Side, err error) *Error {
	return &Error{Kind: KindPeerClosed, Side: side, Err: err}
}

func internalFault(err error) *Error {
	return &Error{Kind: KindInternalFault, Side: SideRelay, Err: err}
}

func malformed(err error) *Error {
	return &Error{Kind: KindMalformedMessage, Side: SideDownstream, Err: err}
}
