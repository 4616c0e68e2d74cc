package session

import "errors"

var (
	// ErrTimeout wraps the socket timeout seen when no data arrived in time.
	ErrTimeout          = errors.New("session: receive timeout")
	ErrUnexpectedType   = errors.New("session: unexpected message type")
	ErrSequenceMismatch = errors.New("session: sequence number mismatch")
)
