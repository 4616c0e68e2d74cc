// Package proctitle renames the running process as seen by ps and top.
package proctitle

import (
	"fmt"
	"unicode/utf8"
)

// MaxLen is the kernel limit for a task name, excluding the terminator.
const MaxLen = 15

// Set formats a title and applies it where the platform supports it. The
// title is truncated to at most MaxLen bytes on a rune boundary.
//
// On Linux only the calling OS thread is renamed. ps shows the name of the
// main thread, so callers lock the main goroutine to it first.
func Set(format string, args ...any) error {
	return set(truncate(fmt.Sprintf(format, args...)))
}

func truncate(title string) string {
	if len(title) <= MaxLen {
		return title
	}
	end := MaxLen
	for end > 0 && !utf8.RuneStart(title[end]) {
		end--
	}
	return title[:end]
}
