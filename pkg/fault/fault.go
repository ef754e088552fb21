// Package fault classifies the failures a remote desktop session can run into.
//
// Every error that crosses a package boundary is a *Error carrying a Kind, so
// callers can branch with errors.Is(err, fault.ErrPeerLost) without knowing
// which component produced it.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind int

const (
	// Transport covers the signaling connection failing or dropping.
	Transport Kind = iota + 1
	// Negotiation covers SDP create/set failures and rejected ICE candidates.
	Negotiation
	// Configuration covers malformed local input, reported synchronously.
	Configuration
	// SessionNotFound is a join with an unknown or expired code.
	SessionNotFound
	// PeerLost is the remote party going away mid-session.
	PeerLost
)

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Negotiation:
		return "negotiation"
	case Configuration:
		return "configuration"
	case SessionNotFound:
		return "session not found"
	case PeerLost:
		return "peer lost"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on a Kind.
var (
	ErrTransport       = &Error{Kind: Transport}
	ErrNegotiation     = &Error{Kind: Negotiation}
	ErrConfiguration   = &Error{Kind: Configuration}
	ErrSessionNotFound = &Error{Kind: SessionNotFound}
	ErrPeerLost        = &Error{Kind: PeerLost}
)

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New returns a classified error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf returns a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}
