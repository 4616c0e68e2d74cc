package protocol

import "errors"

var (
	ErrPayloadTooLarge = errors.New("protocol: payload too large")
	ErrUnknownType     = errors.New("protocol: unknown message type")
	ErrIncomplete      = errors.New("protocol: incomplete frame")
)
