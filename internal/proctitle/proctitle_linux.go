//go:build linux

package proctitle

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// set renames the calling OS thread only. It names the process as ps shows
// it when the caller runs on the main thread.
func set(title string) error {
	name, err := unix.BytePtrFromString(title)
	if err != nil {
		return fmt.Errorf("proctitle: %w", err)
	}
	if err := unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(name)), 0, 0, 0); err != nil {
		return fmt.Errorf("proctitle: prctl PR_SET_NAME: %w", err)
	}
	return nil
}
