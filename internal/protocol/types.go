package protocol

import "fmt"

const (
	// HeaderLen covers type, flags and payload length.
	HeaderLen = 4
	// SeqLen is the sequence number appended after the header.
	SeqLen = 4
	// PreambleLen is the fixed prefix of every frame.
	PreambleLen = HeaderLen + SeqLen
	// MaxPayloadLen is bounded by the 16-bit length field.
	MaxPayloadLen = 1<<16 - 1
	// MaxFrameLen is the largest frame that can appear on the wire.
	MaxFrameLen = PreambleLen + MaxPayloadLen
)

// MessageType is the first byte of every frame.
type MessageType uint8

const (
	RequestToUpper MessageType = iota + 1
	ResponseToUpper
	RequestToLower
	ResponseToLower
	RequestFinish
	ResponseFinish
)

func (t MessageType) Valid() bool {
	return t >= RequestToUpper && t <= ResponseFinish
}

// IsRequest reports whether t travels client to server.
func (t MessageType) IsRequest() bool {
	return t.Valid() && t%2 == 1
}

// Response returns the response type paired with request t.
func (t MessageType) Response() (MessageType, bool) {
	if !t.IsRequest() {
		return 0, false
	}
	return t + 1, true
}

func (t MessageType) String() string {
	switch t {
	case RequestToUpper:
		return "REQUEST_TO_UPPER"
	case ResponseToUpper:
		return "RESPONSE_TO_UPPER"
	case RequestToLower:
		return "REQUEST_TO_LOWER"
	case ResponseToLower:
		return "RESPONSE_TO_LOWER"
	case RequestFinish:
		return "REQUEST_FINISH"
	case ResponseFinish:
		return "RESPONSE_FINISH"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}
