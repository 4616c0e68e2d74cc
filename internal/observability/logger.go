package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/ringwire/internal/logging"
)

// InitLogger configures the process sink and returns a logger tagged with
// app. The returned logger shares the sink's SyncWriter.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Logger()
	log.Logger = logger
	return logger
}
