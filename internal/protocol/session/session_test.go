package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/protocol/frame"
	"github.com/danmuck/ringwire/internal/ring"
	"github.com/danmuck/ringwire/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 8; attempt++ {
		base := NextBackoffDelay(BackoffConfig{InitialDelay: cfg.InitialDelay, Multiplier: 2, MaxDelay: time.Second}, attempt, nil)
		got := NextBackoffDelay(cfg, attempt, rng)
		if got < base/2 || got > base+base/2 {
			t.Fatalf("attempt%d got=%v outside [%v, %v]", attempt, got, base/2, base+base/2)
		}
	}
}

// recordConn is a net.Conn whose reads come from a script of chunks and whose
// writes are captured.
type recordConn struct {
	mu       sync.Mutex
	reads    [][]byte
	writes   [][]byte
	writeCap int
	readCap  int
	closed   bool
}

func (c *recordConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reads) == 0 {
		return 0, io.EOF
	}
	if c.readCap > 0 && len(p) > c.readCap {
		p = p[:c.readCap]
	}
	n := copy(p, c.reads[0])
	if n < len(c.reads[0]) {
		c.reads[0] = c.reads[0][n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	if c.writeCap > 0 && len(p) > c.writeCap {
		return c.writeCap, nil
	}
	return len(p), nil
}

func (c *recordConn) Close() error                     { c.closed = true; return nil }
func (c *recordConn) LocalAddr() net.Addr              { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2345} }
func (c *recordConn) RemoteAddr() net.Addr             { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000} }
func (c *recordConn) SetDeadline(time.Time) error      { return nil }
func (c *recordConn) SetReadDeadline(time.Time) error  { return nil }
func (c *recordConn) SetWriteDeadline(time.Time) error { return nil }

func wireBytes(t *testing.T, msgs ...frame.Message) []byte {
	t.Helper()
	b, err := ring.New(18)
	if err != nil {
		t.Fatalf("ring.New: %v", err)
	}
	for _, m := range msgs {
		if err := frame.Encode(b, m); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	out := make([]byte, b.Size())
	if len(out) > 0 {
		_, _ = b.Read(out)
	}
	return out
}

func TestSendRejectsOversizedPayloadWithoutIO(t *testing.T) {
	testlog.Start(t)
	conn := &recordConn{}
	err := Send(conn, DefaultConfig(), protocol.RequestToUpper, 1, make([]byte, protocol.MaxPayloadLen+1))
	if !errors.Is(err, protocol.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if len(conn.writes) != 0 {
		t.Fatalf("oversized send performed %d writes", len(conn.writes))
	}
}

func TestSendDrainsInChunks(t *testing.T) {
	testlog.Start(t)
	conn := &recordConn{}
	cfg := DefaultConfig()
	cfg.SendChunkSize = 4
	if err := Send(conn, cfg, protocol.RequestToLower, 2, []byte("0123456789")); err != nil {
		t.Fatalf("send: %v", err)
	}
	want := []int{4, 4, 4, 4, 2}
	if len(conn.writes) != len(want) {
		t.Fatalf("writes=%d, want %d", len(conn.writes), len(want))
	}
	for i, w := range conn.writes {
		if len(w) != want[i] {
			t.Fatalf("write %d len=%d, want %d", i, len(w), want[i])
		}
	}
	got := bytes.Join(conn.writes, nil)
	if !bytes.Equal(got, wireBytes(t, frame.Message{Type: protocol.RequestToLower, Seq: 2, Payload: []byte("0123456789")})) {
		t.Fatalf("wire mismatch % x", got)
	}
}

func TestSendMaxPayloadFits(t *testing.T) {
	testlog.Start(t)
	conn := &recordConn{}
	if err := Send(conn, DefaultConfig(), protocol.ResponseToUpper, 3, make([]byte, protocol.MaxPayloadLen)); err != nil {
		t.Fatalf("send max payload: %v", err)
	}
	if n := len(bytes.Join(conn.writes, nil)); n != protocol.MaxFrameLen {
		t.Fatalf("wrote %d bytes, want %d", n, protocol.MaxFrameLen)
	}
}

func TestSendShortWriteIsFatal(t *testing.T) {
	testlog.Start(t)
	conn := &recordConn{writeCap: 2}
	err := Send(conn, DefaultConfig(), protocol.RequestFinish, 3, nil)
	if !errors.Is(err, io.ErrShortWrite) {
		t.Fatalf("expected io.ErrShortWrite, got %v", err)
	}
}

func TestReceiveAssemblesPartialReads(t *testing.T) {
	testlog.Start(t)
	raw := wireBytes(t, frame.Message{Type: protocol.RequestToUpper, Seq: 1, Payload: []byte("Hello")})
	conn := &recordConn{reads: [][]byte{raw[:3], raw[3:9], raw[9:]}}
	c, err := NewConn(conn, DefaultConfig())
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	m, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m.Type != protocol.RequestToUpper || m.Seq != 1 || string(m.Payload) != "Hello" {
		t.Fatalf("unexpected message %s seq=%d payload=%q", m.Type, m.Seq, m.Payload)
	}
	if _, err := c.Receive(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF between frames, got %v", err)
	}
}

func TestReceiveChunkedStreamWrapsRing(t *testing.T) {
	testlog.Start(t)
	types := []protocol.MessageType{protocol.RequestToUpper, protocol.RequestToLower, protocol.RequestFinish}
	var msgs []frame.Message
	for i := 0; i < 40; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i%26)}, 3000+i*97)
		msgs = append(msgs, frame.Message{Type: types[i%len(types)], Seq: uint32(i + 1), Payload: payload})
	}
	raw := wireBytes(t, msgs...)
	if len(raw) < 1<<DefaultBufferExponent {
		t.Fatalf("stream of %d bytes does not wrap the receive ring", len(raw))
	}

	for _, chunk := range []int{1, 3, 7} {
		t.Run(fmt.Sprintf("chunk_%d", chunk), func(t *testing.T) {
			conn := &recordConn{reads: [][]byte{append([]byte(nil), raw...)}, readCap: chunk}
			c, err := NewConn(conn, DefaultConfig())
			if err != nil {
				t.Fatalf("NewConn: %v", err)
			}
			for _, want := range msgs {
				m, err := c.Receive()
				if err != nil {
					t.Fatalf("receive seq=%d: %v", want.Seq, err)
				}
				if m.Type != want.Type || m.Seq != want.Seq || !bytes.Equal(m.Payload, want.Payload) {
					t.Fatalf("got %s seq=%d len=%d, want %s seq=%d len=%d",
						m.Type, m.Seq, len(m.Payload), want.Type, want.Seq, len(want.Payload))
				}
			}
			if _, err := c.Receive(); !errors.Is(err, io.EOF) {
				t.Fatalf("expected io.EOF after last frame, got %v", err)
			}
		})
	}
}

func TestReceiveSmallReadsDoNotAllocateRing(t *testing.T) {
	testlog.Start(t)
	const frames = 64
	msg := frame.Message{Type: protocol.RequestToUpper, Seq: 1, Payload: []byte("Hallo Welt!")}
	var raw []byte
	for i := 0; i < frames; i++ {
		raw = append(raw, wireBytes(t, msg)...)
	}
	c, err := NewConn(&recordConn{reads: [][]byte{raw}, readCap: 1}, DefaultConfig())
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	for i := 0; i < frames; i++ {
		if _, err := c.Receive(); err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
	}
	runtime.ReadMemStats(&after)
	perFrame := (after.TotalAlloc - before.TotalAlloc) / frames
	if perFrame >= 1<<DefaultBufferExponent/8 {
		t.Fatalf("allocated %d bytes per 19-byte frame read one byte at a time", perFrame)
	}
}

func TestReceivePipelinedFramesInOneRead(t *testing.T) {
	testlog.Start(t)
	raw := wireBytes(t,
		frame.Message{Type: protocol.RequestToUpper, Seq: 1, Payload: []byte("one")},
		frame.Message{Type: protocol.RequestToLower, Seq: 2, Payload: []byte("TWO")},
		frame.Message{Type: protocol.RequestFinish, Seq: 3},
	)
	partial := raw[:len(raw)-4]
	conn := &recordConn{reads: [][]byte{partial}}
	c, err := NewConn(conn, DefaultConfig())
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	for _, want := range []uint32{1, 2} {
		m, err := c.Receive()
		if err != nil || m.Seq != want {
			t.Fatalf("receive seq=%d err=%v, want seq %d", m.Seq, err, want)
		}
	}
	if c.Buffered() != protocol.PreambleLen-4 {
		t.Fatalf("leftover=%d, want %d", c.Buffered(), protocol.PreambleLen-4)
	}
	if _, err := c.Receive(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF mid-frame, got %v", err)
	}
}

func TestReceiveUnknownTypeIsProtocolError(t *testing.T) {
	testlog.Start(t)
	conn := &recordConn{reads: [][]byte{{0x09, 0, 0, 0, 0, 0, 0, 1}}}
	c, err := NewConn(conn, DefaultConfig())
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	if _, err := c.Receive(); !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestReceiveTimeoutIsRecoverable(t *testing.T) {
	testlog.Start(t)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	cfg := DefaultConfig()
	cfg.ReadTimeout = 50 * time.Millisecond
	c, err := NewConn(server, cfg)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	start := time.Now()
	if _, err := c.Receive(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- Send(client, DefaultConfig(), protocol.RequestToLower, 2, []byte("ABC"))
	}()
	c.cfg.ReadTimeout = time.Second
	m, err := c.Receive()
	if err != nil {
		t.Fatalf("receive after timeout: %v", err)
	}
	if m.Seq != 2 || string(m.Payload) != "ABC" {
		t.Fatalf("unexpected message seq=%d payload=%q", m.Seq, m.Payload)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("send: %v", err)
	}
}

func TestConnRoundTripOverTCP(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	payload := strings.Repeat("ring", 4096)
	done := make(chan error, 1)
	go func() {
		nc, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		c, err := NewConn(nc, DefaultConfig())
		if err != nil {
			done <- err
			return
		}
		defer c.Close()
		m, err := c.Receive()
		if err != nil {
			done <- err
			return
		}
		done <- c.Send(protocol.ResponseToUpper, m.Seq, bytes.ToUpper(m.Payload))
	}()

	cfg := DefaultConfig()
	cfg.ReadTimeout = 5 * time.Second
	c, err := Dial(context.Background(), "tcp4", ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if err := c.Send(protocol.RequestToUpper, 41, []byte(payload)); err != nil {
		t.Fatalf("send: %v", err)
	}
	m, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m.Type != protocol.ResponseToUpper || m.Seq != 41 || string(m.Payload) != strings.ToUpper(payload) {
		t.Fatalf("unexpected response %s seq=%d len=%d", m.Type, m.Seq, len(m.Payload))
	}
	if err := <-done; err != nil {
		t.Fatalf("peer: %v", err)
	}
}

func TestDialGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	cfg := DefaultConfig()
	cfg.MaxDialAttempts = 2
	cfg.Backoff = BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1}
	if _, err := Dial(context.Background(), "tcp4", addr, cfg); err == nil {
		t.Fatalf("expected dial failure to closed port %s", addr)
	}
}

func TestDialHonorsCancellation(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Dial(ctx, "tcp4", "127.0.0.1:1", DefaultConfig()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestConfigWithDefaults(t *testing.T) {
	testlog.Start(t)
	cfg := Config{ReadTimeout: 0}.WithDefaults()
	if cfg.SendChunkSize != DefaultSendChunkSize || cfg.RecvBufferExponent != DefaultBufferExponent || cfg.SendBufferExponent != DefaultBufferExponent {
		t.Fatalf("sizing defaults not applied: %+v", cfg)
	}
	if cfg.ReadTimeout != 0 {
		t.Fatalf("zero read timeout must be preserved")
	}
	if cfg.MaxDialAttempts != 1 {
		t.Fatalf("MaxDialAttempts=%d, want 1", cfg.MaxDialAttempts)
	}
}

func TestConfigWithDefaultsRaisesSmallRecvRing(t *testing.T) {
	testlog.Start(t)
	if (1<<MinRecvBufferExponent)-1 < protocol.MaxFrameLen {
		t.Fatalf("exponent %d cannot hold a %d-byte frame", MinRecvBufferExponent, protocol.MaxFrameLen)
	}
	if (1<<(MinRecvBufferExponent-1))-1 >= protocol.MaxFrameLen {
		t.Fatalf("exponent %d is larger than needed", MinRecvBufferExponent)
	}
	cfg := Config{RecvBufferExponent: 5}.WithDefaults()
	if cfg.RecvBufferExponent != MinRecvBufferExponent {
		t.Fatalf("RecvBufferExponent=%d, want %d", cfg.RecvBufferExponent, MinRecvBufferExponent)
	}
}

func TestReceiveMaxFrameWithSmallConfiguredRing(t *testing.T) {
	testlog.Start(t)
	payload := bytes.Repeat([]byte{0xa5}, protocol.MaxPayloadLen)
	raw := wireBytes(t, frame.Message{Type: protocol.ResponseToLower, Seq: 9, Payload: payload})
	cfg := DefaultConfig()
	cfg.RecvBufferExponent = 5
	c, err := NewConn(&recordConn{reads: [][]byte{raw}}, cfg)
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	m, err := c.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m.Seq != 9 || !bytes.Equal(m.Payload, payload) {
		t.Fatalf("max frame mismatch seq=%d len=%d", m.Seq, len(m.Payload))
	}
}
