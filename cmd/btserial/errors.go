package main

import (
	"errors"
	"fmt"

	"github.com/srg/btserial/pkg/link"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a one-shot command was using it.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns internal errors into a message that tells the user what to check.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, link.ErrNoCandidates):
		return "no paired device matches the prefix, or Bluetooth is off. Pair the device first and check --prefix."
	case errors.Is(err, link.ErrExhausted):
		return "gave up connecting: every matching paired device refused the connection. Is the device on and in range?"
	case errors.Is(err, link.ErrUnsupported):
		return fmt.Sprintf("transport not supported on this system: %v", err)
	case errors.Is(err, link.ErrNotConnected):
		return "not connected: the link dropped before the data could be sent. Try again once the device is back in range."
	case errors.Is(err, ErrConnectionLost), link.IsConnectionState(err, link.LinkLost):
		return fmt.Sprintf("connection lost: %v", err)
	default:
		return err.Error()
	}
}
