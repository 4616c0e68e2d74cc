// Package frame encodes and decodes wire messages against a ring buffer.
//
// Layout: type(1) flags(1) len(2) seq(4) payload(len). Multi-byte fields are
// big-endian.
package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/ring"
)

// Preamble is the fixed 8-byte prefix of a frame.
type Preamble struct {
	Type  protocol.MessageType
	Flags uint8
	Len   uint16
	Seq   uint32
}

// FrameLen is the total number of wire bytes the preamble announces.
func (p Preamble) FrameLen() int {
	return protocol.PreambleLen + int(p.Len)
}

// Message is one complete wire message.
type Message struct {
	Type    protocol.MessageType
	Flags   uint8
	Seq     uint32
	Payload []byte
}

func (m Message) Preamble() Preamble {
	return Preamble{Type: m.Type, Flags: m.Flags, Len: uint16(len(m.Payload)), Seq: m.Seq}
}

func EncodePreamble(p Preamble) [protocol.PreambleLen]byte {
	var buf [protocol.PreambleLen]byte
	buf[0] = byte(p.Type)
	buf[1] = p.Flags
	binary.BigEndian.PutUint16(buf[2:4], p.Len)
	binary.BigEndian.PutUint32(buf[4:8], p.Seq)
	return buf
}

// DecodePreamble parses raw preamble bytes. The type is validated; the
// flags byte is carried through untouched.
func DecodePreamble(buf [protocol.PreambleLen]byte) (Preamble, error) {
	p := Preamble{
		Type:  protocol.MessageType(buf[0]),
		Flags: buf[1],
		Len:   binary.BigEndian.Uint16(buf[2:4]),
		Seq:   binary.BigEndian.Uint32(buf[4:8]),
	}
	if !p.Type.Valid() {
		return p, fmt.Errorf("%w: %d", protocol.ErrUnknownType, buf[0])
	}
	return p, nil
}

// Encode appends m to b. Nothing is written when the payload is oversized or
// the whole frame does not fit.
func Encode(b *ring.Buffer, m Message) error {
	if len(m.Payload) > protocol.MaxPayloadLen {
		return fmt.Errorf("%w: %d > %d", protocol.ErrPayloadTooLarge, len(m.Payload), protocol.MaxPayloadLen)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %d", protocol.ErrUnknownType, uint8(m.Type))
	}
	need := protocol.PreambleLen + len(m.Payload)
	if free := b.Free(); need > free {
		return fmt.Errorf("%w: frame %d bytes, free %d", ring.ErrNoSpace, need, free)
	}
	pre := EncodePreamble(m.Preamble())
	if err := b.Write(pre[:]); err != nil {
		return err
	}
	if len(m.Payload) == 0 {
		return nil
	}
	return b.Write(m.Payload)
}

// ReadPreamble consumes the next preamble. With fewer than PreambleLen bytes
// buffered it returns ErrIncomplete and consumes nothing.
func ReadPreamble(b *ring.Buffer) (Preamble, error) {
	if b.Size() < protocol.PreambleLen {
		return Preamble{}, protocol.ErrIncomplete
	}
	var buf [protocol.PreambleLen]byte
	if _, err := b.Read(buf[:]); err != nil {
		return Preamble{}, err
	}
	return DecodePreamble(buf)
}

// ReadPayload consumes the payload announced by p. With fewer than p.Len
// bytes buffered it returns ErrIncomplete and consumes nothing.
func ReadPayload(b *ring.Buffer, p Preamble) (Message, error) {
	m := Message{Type: p.Type, Flags: p.Flags, Seq: p.Seq}
	if p.Len == 0 {
		m.Payload = []byte{}
		return m, nil
	}
	if b.Size() < int(p.Len) {
		return Message{}, protocol.ErrIncomplete
	}
	m.Payload = make([]byte, p.Len)
	if _, err := b.Read(m.Payload); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Decode returns the next whole message, consuming it only when every byte
// of the frame is buffered.
func Decode(b *ring.Buffer) (Message, error) {
	var buf [protocol.PreambleLen]byte
	if b.Size() < protocol.PreambleLen {
		return Message{}, protocol.ErrIncomplete
	}
	if _, err := b.Peek(buf[:]); err != nil {
		return Message{}, err
	}
	p, err := DecodePreamble(buf)
	if err != nil {
		return Message{}, err
	}
	if b.Size() < p.FrameLen() {
		return Message{}, protocol.ErrIncomplete
	}
	b.Discard(protocol.PreambleLen)
	return ReadPayload(b, p)
}
