// Package ring owns the fixed-capacity circular byte store used to stage
// frames on their way to and from a socket.
//
// Capacity is always a power of two so cursor wraparound is a mask. One slot
// is kept free: a buffer of capacity N holds at most N-1 bytes, which keeps
// "read == write" meaning empty.
package ring

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	MinExponent uint = 1
	MaxExponent uint = 24
)

var (
	ErrInvalidSize = errors.New("ring: invalid size exponent")
	ErrFull        = errors.New("ring: buffer full")
	ErrNoSpace     = errors.New("ring: not enough free space")
	ErrEmpty       = errors.New("ring: buffer empty")
)

// Buffer is a mutex-guarded circular byte store. Every operation holds the
// buffer lock for its whole duration, so a split copy is never interleaved
// with another caller.
type Buffer struct {
	mu   sync.Mutex
	buf  []byte
	mask uint32
	r    uint32
	w    uint32
	size uint32
}

// New returns a buffer holding 2^exp bytes of storage.
func New(exp uint) (*Buffer, error) {
	if exp < MinExponent || exp > MaxExponent {
		return nil, fmt.Errorf("%w: %d (want %d..%d)", ErrInvalidSize, exp, MinExponent, MaxExponent)
	}
	capacity := uint32(1) << exp
	return &Buffer{
		buf:  make([]byte, capacity),
		mask: capacity - 1,
	}, nil
}

// Cap returns the storage capacity. At most Cap()-1 bytes are ever buffered.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

func (b *Buffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.size)
}

// Free returns how many bytes a single Write can accept right now.
func (b *Buffer) Free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.free()
}

func (b *Buffer) CanRead() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canRead()
}

func (b *Buffer) CanWrite() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.canWrite()
}

// Write appends p in full or not at all. It fails with ErrFull when no slot
// is free and with ErrNoSpace when len(p) does not fit.
func (b *Buffer) Write(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canWrite() {
		return ErrFull
	}
	if len(p) == 0 {
		return nil
	}
	if uint64(len(p)) >= uint64(b.cap()-b.size) {
		return fmt.Errorf("%w: need %d, free %d", ErrNoSpace, len(p), b.free())
	}
	b.w = copyIn(b.buf, b.w, p)
	b.size += uint32(len(p))
	return nil
}

func (b *Buffer) Put(c byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canWrite() {
		return ErrFull
	}
	b.buf[b.w] = c
	b.w = (b.w + 1) & b.mask
	b.size++
	return nil
}

// Read drains up to len(p) buffered bytes into p. Callers that need an exact
// amount must check Size first or loop.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canRead() {
		return 0, ErrEmpty
	}
	n := copyOut(p[:b.readable(len(p))], b.buf, b.r)
	b.r = (b.r + uint32(n)) & b.mask
	b.size -= uint32(n)
	return n, nil
}

func (b *Buffer) Get() (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canRead() {
		return 0, ErrEmpty
	}
	c := b.buf[b.r]
	b.r = (b.r + 1) & b.mask
	b.size--
	return c, nil
}

// Peek copies up to len(p) buffered bytes into p without consuming them.
func (b *Buffer) Peek(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.canRead() {
		return 0, ErrEmpty
	}
	return copyOut(p[:b.readable(len(p))], b.buf, b.r), nil
}

// Discard drops up to n buffered bytes and returns how many were dropped.
func (b *Buffer) Discard(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := b.readable(n)
	b.r = (b.r + uint32(k)) & b.mask
	b.size -= uint32(k)
	return k
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.r, b.w, b.size = 0, 0, 0
}

// ReadFrom performs a single Read from r straight into the contiguous free
// span after the write cursor. It does not loop until EOF; the caller decides
// when it has enough. The buffer lock is held for the duration of the read.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	free := b.free()
	if free <= 0 {
		return 0, ErrFull
	}
	span, _ := split(b.w, uint32(free), b.cap())
	n, err := r.Read(b.buf[b.w : b.w+span])
	if n < 0 || n > int(span) {
		return 0, fmt.Errorf("ring: reader returned invalid count %d", n)
	}
	b.w = (b.w + uint32(n)) & b.mask
	b.size += uint32(n)
	return int64(n), err
}

// WriteTo drains the buffer into w in chunks of at most chunk bytes. A write
// that accepts fewer bytes than offered fails with io.ErrShortWrite; the
// bytes of that chunk are lost.
func (b *Buffer) WriteTo(w io.Writer, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = b.Cap()
	}
	scratch := make([]byte, chunk)
	var total int64
	for b.CanRead() {
		n, err := b.Read(scratch)
		if err != nil {
			return total, err
		}
		written, err := w.Write(scratch[:n])
		total += int64(written)
		if err != nil {
			return total, err
		}
		if written != n {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

func (b *Buffer) cap() uint32 {
	return b.mask + 1
}

func (b *Buffer) free() int {
	return int(b.cap() - b.size - 1)
}

func (b *Buffer) canRead() bool {
	return b.w != b.r
}

func (b *Buffer) canWrite() bool {
	return ((b.w + 1) & b.mask) != b.r
}

func (b *Buffer) readable(n int) int {
	if n < 0 {
		return 0
	}
	if uint64(n) > uint64(b.size) {
		return int(b.size)
	}
	return n
}

// split returns how many of n bytes starting at pos fit before the end of a
// storage of the given capacity, and how many wrap to index 0.
func split(pos, n, capacity uint32) (first, second uint32) {
	if pos+n <= capacity {
		return n, 0
	}
	first = capacity - pos
	return first, n - first
}

// copyIn copies src into storage starting at pos, wrapping at the end, and
// returns the cursor after the last byte written.
func copyIn(storage []byte, pos uint32, src []byte) uint32 {
	capacity := uint32(len(storage))
	first, second := split(pos, uint32(len(src)), capacity)
	copy(storage[pos:pos+first], src[:first])
	copy(storage[:second], src[first:])
	return (pos + first + second) & (capacity - 1)
}

// copyOut fills dst from storage starting at pos, wrapping at the end.
func copyOut(dst []byte, storage []byte, pos uint32) int {
	capacity := uint32(len(storage))
	first, second := split(pos, uint32(len(dst)), capacity)
	copy(dst[:first], storage[pos:pos+first])
	copy(dst[first:], storage[:second])
	return int(first + second)
}
