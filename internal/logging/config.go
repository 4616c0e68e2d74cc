package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "RINGWIRE_LOG_LEVEL"
	EnvLogTimestamp = "RINGWIRE_LOG_TIMESTAMP"
	EnvLogNoColor   = "RINGWIRE_LOG_NOCOLOR"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config describes the process-wide sink.
type Config struct {
	Level     Level
	Timestamp bool
	NoColor   bool
	Out       io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

// Configure installs the sink once per process; later calls are no-ops.
func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		Apply(cfg)
	})
}

// Apply replaces the global sink unconditionally.
func Apply(cfg Config) {
	out := cfg.Out
	if out == nil {
		out = stderr(cfg.NoColor)
	}
	cw := zerolog.ConsoleWriter{
		Out:        zerolog.SyncWriter(out),
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	if !cfg.Timestamp {
		cw.PartsExclude = []string{zerolog.TimestampFieldName}
	}
	log.Logger = zerolog.New(cw).With().Timestamp().Logger()
	SetLevel(cfg.Level)
}

// SetLevel changes the verbosity of the global sink.
func SetLevel(level Level) {
	zerolog.SetGlobalLevel(level.zerolog())
}

func defaultConfig(profile Profile) Config {
	cfg := Config{NoColor: !isatty.IsTerminal(os.Stderr.Fd())}
	switch profile {
	case ProfileTest:
		cfg.Level = LevelDebug
		cfg.Timestamp = false
		cfg.NoColor = true
	default:
		cfg.Level = LevelInfo
		cfg.Timestamp = true
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := ParseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
}

func stderr(noColor bool) io.Writer {
	if noColor {
		return os.Stderr
	}
	return colorable.NewColorableStderr()
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
