package session

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults for one connection.
type Config struct {
	ConnectTimeout time.Duration
	// ReadTimeout bounds each socket read made by Receive. Zero blocks.
	ReadTimeout time.Duration
	// WriteTimeout bounds a whole Send. Zero blocks.
	WriteTimeout       time.Duration
	SendChunkSize      int
	SendBufferExponent uint
	RecvBufferExponent uint
	MaxDialAttempts    int
	Backoff            BackoffConfig
}

const (
	// DefaultBufferExponent gives a 128 KiB ring, enough for any frame.
	DefaultBufferExponent uint = 17
	DefaultSendChunkSize       = 1024
	// MinRecvBufferExponent is the smallest receive ring that holds a
	// maximum-size frame next to one free slot.
	MinRecvBufferExponent uint = 17
)

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		ReadTimeout:        time.Second,
		WriteTimeout:       5 * time.Second,
		SendChunkSize:      DefaultSendChunkSize,
		SendBufferExponent: DefaultBufferExponent,
		RecvBufferExponent: DefaultBufferExponent,
		MaxDialAttempts:    3,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero-valued sizing fields and raises a receive ring
// too small for a maximum-size frame. Timeouts are left alone so
// that zero keeps meaning "no deadline".
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.SendChunkSize <= 0 {
		c.SendChunkSize = def.SendChunkSize
	}
	if c.SendBufferExponent == 0 {
		c.SendBufferExponent = def.SendBufferExponent
	}
	if c.RecvBufferExponent == 0 {
		c.RecvBufferExponent = def.RecvBufferExponent
	}
	if c.RecvBufferExponent < MinRecvBufferExponent {
		c.RecvBufferExponent = MinRecvBufferExponent
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = 1
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}
