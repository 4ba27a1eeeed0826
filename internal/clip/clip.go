// Package clip provides the clipboard accessor the sync engine reads from and
// writes to. Build constraints select the platform implementation:
//
//	clip_desktop.go  linux, darwin, windows via golang.design/x/clipboard (polling)
//	clip_other.go    every other platform, headless
//	memory.go        in-process clipboard for tests and headless daemons
package clip

import "errors"

// ErrPermissionDenied is wrapped by every failure caused by the OS refusing
// clipboard access. It never affects the sync connection.
var ErrPermissionDenied = errors.New("clipboard permission denied")

// Accessor is the interface that all clipboard implementations satisfy.
type Accessor interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard text. An empty clipboard reads as "".
	Read() (string, error)

	// Write replaces the clipboard text.
	Write(content string) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// may have changed. Signals coalesce; the caller should Read on receipt.
	// The channel is never closed.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}
