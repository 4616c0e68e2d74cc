// Package logging owns the process-wide leveled log sink.
//
// Every event is written through one zerolog.SyncWriter, so lines from
// concurrent connection handlers never interleave.
package logging

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Level mirrors the verbosity steps exposed on the command line.
type Level int

const (
	LevelNone Level = iota
	LevelFatal
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelFatal:
		return "FATAL"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelNone:
		return zerolog.Disabled
	case LevelFatal:
		return zerolog.FatalLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel accepts the names printed by Level.String, case-insensitive,
// plus a few aliases.
func ParseLevel(raw string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "none", "off", "disabled":
		return LevelNone, true
	case "fatal":
		return LevelFatal, true
	case "error", "err":
		return LevelError, true
	case "warn", "warning":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug", "trace":
		return LevelDebug, true
	default:
		return LevelInfo, false
	}
}

func Logf(level Level, format string, args ...any) {
	event(level).Msgf(format, args...)
}

func Debugf(format string, args ...any) { Logf(LevelDebug, format, args...) }
func Infof(format string, args ...any)  { Logf(LevelInfo, format, args...) }
func Warnf(format string, args ...any)  { Logf(LevelWarn, format, args...) }
func Errorf(format string, args ...any) { Logf(LevelError, format, args...) }

// Fatalf logs and exits the process with status 1.
func Fatalf(format string, args ...any) {
	log.Fatal().Msgf(format, args...)
}

// Errnof logs err together with its OS errno, when err carries one.
func Errnof(level Level, err error, format string, args ...any) {
	ev := event(level).Err(err)
	var errno syscall.Errno
	if errors.As(err, &errno) {
		ev = ev.Int("errno", int(errno)).Str("strerror", errno.Error())
	}
	ev.Msgf(format, args...)
}

// Gaif logs an address-resolution failure with the resolver's reason.
func Gaif(level Level, err error, format string, args ...any) {
	ev := event(level).Err(err)
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		ev = ev.Str("gai", dnsErr.Err).Str("name", dnsErr.Name).Bool("not_found", dnsErr.IsNotFound)
	}
	ev.Msgf(format, args...)
}

func event(level Level) *zerolog.Event {
	if level == LevelNone {
		return log.WithLevel(zerolog.NoLevel)
	}
	if level == LevelFatal {
		// WithLevel does not exit the process, unlike log.Fatal.
		return log.WithLevel(zerolog.FatalLevel)
	}
	return log.WithLevel(level.zerolog())
}
