package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	KindServer = "server"
	KindClient = "client"
)

// Template renders the default config for kind as TOML.
func Template(kind string) (string, error) {
	var (
		header string
		doc    any
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		header = "# ringwire serve configuration\n"
		doc = serverFileFrom(DefaultServerConfig())
	case KindClient:
		header = "# ringwire echo configuration\n"
		doc = clientFileFrom(DefaultClientConfig())
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
	body, err := toml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", kind, err)
	}
	return header + string(body), nil
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

// Validate loads path as kind and reports the first problem found.
func Validate(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindServer:
		_, err := LoadServerConfig(path)
		return err
	case KindClient:
		_, err := LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func serverFileFrom(c ServerConfig) serverFile {
	return serverFile{
		Host:               c.Server.Host,
		Service:            c.Server.Service,
		Family:             c.Server.Family.String(),
		LogLevel:           strings.ToLower(c.LogLevel.String()),
		PollInterval:       durationString(c.Server.PollInterval),
		ReadTimeout:        durationString(c.Server.Session.ReadTimeout),
		WriteTimeout:       durationString(c.Server.Session.WriteTimeout),
		IdleTimeout:        durationString(c.IdleTimeout),
		ShutdownGrace:      durationString(c.Server.ShutdownGrace),
		MaxConnections:     c.Server.MaxConnections,
		SendChunkSize:      c.Server.Session.SendChunkSize,
		RecvBufferExponent: c.Server.Session.RecvBufferExponent,
		AdminAddr:          c.AdminAddr,
		CorsOrigins:        c.CorsOrigins,
	}
}

func clientFileFrom(c ClientConfig) clientFile {
	return clientFile{
		Host:               c.Client.Host,
		Service:            c.Client.Service,
		Family:             c.Client.Family.String(),
		LogLevel:           strings.ToLower(c.LogLevel.String()),
		Text:               c.Client.Text,
		ConnectTimeout:     durationString(c.Client.Session.ConnectTimeout),
		ReadTimeout:        durationString(c.Client.Session.ReadTimeout),
		WriteTimeout:       durationString(c.Client.Session.WriteTimeout),
		ExchangeTimeout:    durationString(c.Client.ExchangeTimeout),
		SendChunkSize:      c.Client.Session.SendChunkSize,
		RecvBufferExponent: c.Client.Session.RecvBufferExponent,
		MaxDialAttempts:    c.Client.Session.MaxDialAttempts,
	}
}

func durationString(d time.Duration) string {
	return d.String()
}
