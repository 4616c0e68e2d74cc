package testlog

import (
	"testing"

	"github.com/danmuck/ringwire/internal/logging"
)

func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	logging.Debugf("test=%s", t.Name())
}
