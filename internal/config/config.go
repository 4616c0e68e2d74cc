// Package config loads ringwire TOML files onto runtime defaults.
//
// Keys present in a file replace the matching default; absent keys keep it.
// Command-line flags are applied by the caller after loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/ringwire/internal/client"
	"github.com/danmuck/ringwire/internal/logging"
	"github.com/danmuck/ringwire/internal/protocol"
	"github.com/danmuck/ringwire/internal/protocol/session"
	"github.com/danmuck/ringwire/internal/ring"
	"github.com/danmuck/ringwire/internal/server"
)

var ErrInvalid = errors.New("config: invalid")

const minBufferExponent = session.MinRecvBufferExponent

// ServerConfig is everything `ringwire serve` needs.
type ServerConfig struct {
	Server      server.Config
	IdleTimeout time.Duration
	LogLevel    logging.Level
	AdminAddr   string
	CorsOrigins []string
}

// ClientConfig is everything `ringwire echo` needs.
type ClientConfig struct {
	Client   client.Config
	LogLevel logging.Level
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Server:      server.DefaultConfig(),
		IdleTimeout: 0,
		LogLevel:    logging.LevelInfo,
		CorsOrigins: []string{"http://localhost:3000"},
	}
}

func DefaultClientConfig() ClientConfig {
	cfg := client.DefaultConfig()
	cfg.Host = "localhost"
	return ClientConfig{Client: cfg, LogLevel: logging.LevelInfo}
}

// serverFile is the serve config.toml key mapping.
type serverFile struct {
	Host               string   `toml:"host"`
	Service            string   `toml:"service"`
	Family             string   `toml:"family"`
	LogLevel           string   `toml:"log_level"`
	PollInterval       string   `toml:"poll_interval"`
	ReadTimeout        string   `toml:"read_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	IdleTimeout        string   `toml:"idle_timeout"`
	ShutdownGrace      string   `toml:"shutdown_grace"`
	MaxConnections     int64    `toml:"max_connections"`
	SendChunkSize      int      `toml:"send_chunk_size"`
	RecvBufferExponent uint     `toml:"recv_buffer_exponent"`
	AdminAddr          string   `toml:"admin_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
}

// clientFile is the echo config.toml key mapping.
type clientFile struct {
	Host               string `toml:"host"`
	Service            string `toml:"service"`
	Family             string `toml:"family"`
	LogLevel           string `toml:"log_level"`
	Text               string `toml:"text"`
	ConnectTimeout     string `toml:"connect_timeout"`
	ReadTimeout        string `toml:"read_timeout"`
	WriteTimeout       string `toml:"write_timeout"`
	ExchangeTimeout    string `toml:"exchange_timeout"`
	SendChunkSize      int    `toml:"send_chunk_size"`
	RecvBufferExponent uint   `toml:"recv_buffer_exponent"`
	MaxDialAttempts    int    `toml:"max_dial_attempts"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseServerConfig(data)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseServerConfig overlays TOML data on DefaultServerConfig and validates
// the result.
func ParseServerConfig(data []byte) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	warnUndecoded(meta)

	var errs []error
	if meta.IsDefined("host") {
		cfg.Server.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("service") {
		cfg.Server.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("family") {
		f, err := server.ParseFamily(raw.Family)
		errs = append(errs, err)
		cfg.Server.Family = f
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel, err = parseLevel(raw.LogLevel)
		errs = append(errs, err)
	}
	if meta.IsDefined("poll_interval") {
		errs = append(errs, parseDuration("poll_interval", raw.PollInterval, &cfg.Server.PollInterval))
	}
	if meta.IsDefined("read_timeout") {
		errs = append(errs, parseDuration("read_timeout", raw.ReadTimeout, &cfg.Server.Session.ReadTimeout))
	}
	if meta.IsDefined("write_timeout") {
		errs = append(errs, parseDuration("write_timeout", raw.WriteTimeout, &cfg.Server.Session.WriteTimeout))
	}
	if meta.IsDefined("idle_timeout") {
		errs = append(errs, parseDuration("idle_timeout", raw.IdleTimeout, &cfg.IdleTimeout))
	}
	if meta.IsDefined("shutdown_grace") {
		errs = append(errs, parseDuration("shutdown_grace", raw.ShutdownGrace, &cfg.Server.ShutdownGrace))
	}
	if meta.IsDefined("max_connections") {
		cfg.Server.MaxConnections = raw.MaxConnections
	}
	if meta.IsDefined("send_chunk_size") {
		cfg.Server.Session.SendChunkSize = raw.SendChunkSize
	}
	if meta.IsDefined("recv_buffer_exponent") {
		cfg.Server.Session.RecvBufferExponent = raw.RecvBufferExponent
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = raw.CorsOrigins
	}
	if err := errors.Join(errs...); err != nil {
		return ServerConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg, err := ParseClientConfig(data)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func ParseClientConfig(data []byte) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed: %w", err)
	}
	warnUndecoded(meta)

	c := &cfg.Client
	var errs []error
	if meta.IsDefined("host") {
		c.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("service") {
		c.Service = strings.TrimSpace(raw.Service)
	}
	if meta.IsDefined("family") {
		f, err := server.ParseFamily(raw.Family)
		errs = append(errs, err)
		c.Family = f
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel, err = parseLevel(raw.LogLevel)
		errs = append(errs, err)
	}
	if meta.IsDefined("text") {
		c.Text = raw.Text
	}
	if meta.IsDefined("connect_timeout") {
		errs = append(errs, parseDuration("connect_timeout", raw.ConnectTimeout, &c.Session.ConnectTimeout))
	}
	if meta.IsDefined("read_timeout") {
		errs = append(errs, parseDuration("read_timeout", raw.ReadTimeout, &c.Session.ReadTimeout))
	}
	if meta.IsDefined("write_timeout") {
		errs = append(errs, parseDuration("write_timeout", raw.WriteTimeout, &c.Session.WriteTimeout))
	}
	if meta.IsDefined("exchange_timeout") {
		errs = append(errs, parseDuration("exchange_timeout", raw.ExchangeTimeout, &c.ExchangeTimeout))
	}
	if meta.IsDefined("send_chunk_size") {
		c.Session.SendChunkSize = raw.SendChunkSize
	}
	if meta.IsDefined("recv_buffer_exponent") {
		c.Session.RecvBufferExponent = raw.RecvBufferExponent
	}
	if meta.IsDefined("max_dial_attempts") {
		c.Session.MaxDialAttempts = raw.MaxDialAttempts
	}
	if err := errors.Join(errs...); err != nil {
		return ClientConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ServerConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Service) == "" {
		errs = append(errs, fmt.Errorf("%w: service is required", ErrInvalid))
	}
	if c.Server.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: poll_interval must be positive", ErrInvalid))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("%w: max_connections must be >= 0", ErrInvalid))
	}
	if c.IdleTimeout < 0 || c.Server.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("%w: idle_timeout and shutdown_grace must be >= 0", ErrInvalid))
	}
	errs = append(errs, validateSession(c.Server.Session.ReadTimeout, c.Server.Session.WriteTimeout,
		c.Server.Session.SendChunkSize, c.Server.Session.RecvBufferExponent))
	return errors.Join(errs...)
}

func (c ClientConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Client.Service) == "" {
		errs = append(errs, fmt.Errorf("%w: service is required", ErrInvalid))
	}
	if len(c.Client.Text) > protocol.MaxPayloadLen {
		errs = append(errs, fmt.Errorf("%w: text longer than %d bytes", ErrInvalid, protocol.MaxPayloadLen))
	}
	if c.Client.Session.MaxDialAttempts < 1 {
		errs = append(errs, fmt.Errorf("%w: max_dial_attempts must be >= 1", ErrInvalid))
	}
	if c.Client.ExchangeTimeout < 0 || c.Client.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: timeouts must be >= 0", ErrInvalid))
	}
	errs = append(errs, validateSession(c.Client.Session.ReadTimeout, c.Client.Session.WriteTimeout,
		c.Client.Session.SendChunkSize, c.Client.Session.RecvBufferExponent))
	return errors.Join(errs...)
}

func validateSession(read, write time.Duration, chunk int, exp uint) error {
	var errs []error
	if read < 0 || write < 0 {
		errs = append(errs, fmt.Errorf("%w: read_timeout and write_timeout must be >= 0", ErrInvalid))
	}
	if chunk <= 0 {
		errs = append(errs, fmt.Errorf("%w: send_chunk_size must be positive", ErrInvalid))
	}
	if exp < minBufferExponent || exp > ring.MaxExponent {
		errs = append(errs, fmt.Errorf("%w: recv_buffer_exponent must be in [%d, %d]", ErrInvalid, minBufferExponent, ring.MaxExponent))
	}
	return errors.Join(errs...)
}

func parseDuration(key, raw string, out *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
	*out = d
	return nil
}

func parseLevel(raw string) (logging.Level, error) {
	lvl, ok := logging.ParseLevel(raw)
	if !ok {
		return logging.LevelInfo, fmt.Errorf("%w: log_level %q", ErrInvalid, raw)
	}
	return lvl, nil
}

func warnUndecoded(meta toml.MetaData) {
	for _, key := range meta.Undecoded() {
		logging.Warnf("config: unknown key %q ignored", key.String())
	}
}
