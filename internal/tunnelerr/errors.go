// Package tunnelerr defines the error-kind sentinels used across the tunnel
// so that log sites and tests can classify a failure with errors.Is instead
// of string matching.
package tunnelerr

import "errors"

var (
	// ErrProtocol marks a malformed or unexpected frame on a control/data
	// channel (non-text first frame, missing "ack", unparseable id).
	ErrProtocol = errors.New("tunnel: protocol violation")

	// ErrRendezvousMiss marks a /connect upgrade whose id has no matching
	// pending entry (expired, already claimed, or never registered).
	ErrRendezvousMiss = errors.New("tunnel: unknown connection id")

	// ErrControllerAbsent marks a TCP accept with no bound controller.
	ErrControllerAbsent = errors.New("tunnel: no controller bound")

	// ErrControllerBound marks a second /control upgrade attempt while one
	// controller is already bound.
	ErrControllerBound = errors.New("tunnel: controller already bound")

	// ErrTransport marks a WebSocket or TCP I/O failure terminating a
	// session; never retried for in-flight data.
	ErrTransport = errors.New("tunnel: transport failure")
)
