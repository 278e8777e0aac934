package link

import (
	"errors"
	"fmt"
)

// ConnectionState names the kind of connection failure carried by a ConnectionError.
type ConnectionState string

const (
	// LinkLost means the caller should treat the failure as transient and expect
	// a reconnect notification.
	LinkLost     ConnectionState = "link_lost"
	NotConnected ConnectionState = "not_connected"
)

// ConnectionError represents any connection-related problem.
type ConnectionError struct {
	State ConnectionState
	Msg   string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.State)
	if e.Msg != "" {
		msg = fmt.Sprintf("%s: %s", e.State, e.Msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is allows errors.Is to compare ConnectionError values by State.
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors for connection states.
var (
	ErrLinkLost     = &ConnectionError{State: LinkLost, Msg: "connection lost, reconnecting"}
	ErrNotConnected = &ConnectionError{State: NotConnected}
)

// Operation errors
var (
	// ErrUnsupported is returned by a SocketFactory that cannot create a socket
	// for the given device on this platform. WithFallback switches strategy on it.
	ErrUnsupported = errors.New("unsupported")
	ErrTimeout     = errors.New("timeout")
	// ErrNoCandidates is returned by Resume when no connection attempt could start:
	// the radio is off or no paired device matches the prefix.
	ErrNoCandidates = errors.New("no paired device to connect to")
	// ErrExhausted reports that every connection attempt failed; it accompanies EventFailed.
	ErrExhausted = errors.New("connection attempts exhausted")
)

// errLinkDown is returned by the pass-through accessors while no link is up.
// It matches ErrLinkLost, so callers wait for a reconnect, and ErrNotConnected,
// so they can tell it apart from an I/O failure on a live link.
var errLinkDown = &ConnectionError{State: LinkLost, Msg: "link is down", Err: ErrNotConnected}

// linkLost wraps an I/O failure seen while the link was believed to be up.
func linkLost(op string, err error) error {
	return &ConnectionError{State: LinkLost, Msg: op + " failed", Err: err}
}

// IsConnectionState reports whether err is a ConnectionError with the given state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
