// Command ringwire runs the framed echo server and client.
package main

import (
	"os"
	"runtime"

	"github.com/danmuck/ringwire/internal/logging"
)

// The main goroutine stays on the main thread so the process title set by
// serve renames the thread ps reports.
func init() {
	runtime.LockOSThread()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logging.ConfigureRuntime()
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}
