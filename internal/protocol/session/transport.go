package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"time"

	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/observability"
	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/protocol/frame"
	"github.com/danmuck/ringwire/internal/ring"
)

// Send encodes one message into a private send ring and drains it into conn
// in cfg.SendChunkSize pieces. An oversized payload is rejected before any
// socket I/O. Any write failure leaves the stream unusable; callers should
// close conn.
func Send(conn net.Conn, cfg Config, typ protocol.MessageType, seq uint32, data []byte) error {
	if len(data) > protocol.MaxPayloadLen {
		return fmt.Errorf("session: send %s seq=%d: %w: %d > %d",
			typ, seq, protocol.ErrPayloadTooLarge, len(data), protocol.MaxPayloadLen)
	}
	cfg = cfg.WithDefaults()

	buf, err := ring.New(cfg.SendBufferExponent)
	if err != nil {
		return fmt.Errorf("session: send buffer: %w", err)
	}
	defer buf.Reset()

	if err := frame.Encode(buf, frame.Message{Type: typ, Seq: seq, Payload: data}); err != nil {
		return fmt.Errorf("session: encode %s seq=%d: %w", typ, seq, err)
	}
	size := buf.Size()

	if cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("session: set write deadline: %w", err)
		}
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := buf.WriteTo(conn, cfg.SendChunkSize); err != nil {
		return fmt.Errorf("session: send %s seq=%d: %w", typ, seq, err)
	}

	observability.RecordFrame(observability.DirectionSent, typ.String(), size)
	logging.Debugf("session: sent %s seq=%d len=%d to=%s", typ, seq, len(data), conn.RemoteAddr())
	return nil
}

type recvState int

const (
	awaitingHeader recvState = iota
	awaitingPayload
	complete
)

func (s recvState) String() string {
	switch s {
	case awaitingHeader:
		return "awaiting_header"
	case awaitingPayload:
		return "awaiting_payload"
	case complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Conn is one framed connection with its receive ring. Bytes that belong to
// a following frame stay buffered between Receive calls.
type Conn struct {
	nc      net.Conn
	cfg     Config
	recv    *ring.Buffer
	state   recvState
	pending frame.Preamble
}

// NewConn takes ownership of nc. nc is closed if the receive ring cannot be
// allocated.
func NewConn(nc net.Conn, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	recv, err := ring.New(cfg.RecvBufferExponent)
	if err != nil {
		_ = nc.Close()
		return nil, fmt.Errorf("session: receive buffer: %w", err)
	}
	return &Conn{nc: nc, cfg: cfg, recv: recv}, nil
}

// Receive returns the next complete message. A read that sees no data within
// cfg.ReadTimeout yields ErrTimeout and keeps any partial frame buffered, so
// the call can be retried. Peer close yields io.EOF between frames and
// io.ErrUnexpectedEOF inside one.
func (c *Conn) Receive() (frame.Message, error) {
	if c.state == complete {
		c.state = awaitingHeader
	}
	for {
		switch c.state {
		case awaitingHeader:
			p, err := frame.ReadPreamble(c.recv)
			if err == nil {
				c.pending = p
				c.state = awaitingPayload
				continue
			}
			if !errors.Is(err, protocol.ErrIncomplete) {
				return frame.Message{}, fmt.Errorf("session: from %s: %w", c.RemoteAddr(), err)
			}
		case awaitingPayload:
			m, err := frame.ReadPayload(c.recv, c.pending)
			if err == nil {
				c.state = complete
				observability.RecordFrame(observability.DirectionReceived, m.Type.String(), c.pending.FrameLen())
				logging.Debugf("session: received %s seq=%d len=%d from=%s", m.Type, m.Seq, len(m.Payload), c.RemoteAddr())
				return m, nil
			}
			if !errors.Is(err, protocol.ErrIncomplete) {
				return frame.Message{}, err
			}
		}
		if err := c.fill(); err != nil {
			return frame.Message{}, err
		}
	}
}

func (c *Conn) fill() error {
	if c.cfg.ReadTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("session: set read deadline: %w", err)
		}
	}
	n, err := c.recv.ReadFrom(c.nc)
	if n > 0 || err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		observability.RecordReceiveTimeout()
		return fmt.Errorf("%w (%s): %w", ErrTimeout, c.state, err)
	}
	if errors.Is(err, io.EOF) {
		if c.state == awaitingHeader && !c.recv.CanRead() {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	}
	return err
}

// Buffered reports how many received bytes are waiting to be decoded.
func (c *Conn) Buffered() int {
	return c.recv.Size()
}

func (c *Conn) Send(typ protocol.MessageType, seq uint32, data []byte) error {
	return Send(c.nc, c.cfg, typ, seq, data)
}

func (c *Conn) Close() error {
	return c.nc.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

func (c *Conn) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

// Dial connects to addr with up to cfg.MaxDialAttempts attempts, sleeping
// NextBackoffDelay between them.
func Dial(ctx context.Context, network, addr string, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxDialAttempts; attempt++ {
		nc, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			logging.Debugf("session: connected %s %s -> %s", network, nc.LocalAddr(), nc.RemoteAddr())
			return NewConn(nc, cfg)
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logging.Errnof(logging.LevelWarn, err, "session: dial %s %s attempt %d/%d", network, addr, attempt, cfg.MaxDialAttempts)
		if attempt == cfg.MaxDialAttempts {
			break
		}
		timer := time.NewTimer(NextBackoffDelay(cfg.Backoff, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("session: dial %s %s: %w", network, addr, lastErr)
}
