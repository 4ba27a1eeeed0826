//go:build linux || darwin || windows

package clip

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"golang.design/x/clipboard"
)

const pollInterval = 250 * time.Millisecond

type desktopBackend struct {
	watchCh chan struct{}
	done    chan struct{}
	once    sync.Once

	lastText []byte
}

// New returns the desktop clipboard backend, or a headless backend if the
// display environment is unavailable (e.g. a server without X11 or Wayland).
// clipboard.Init is called here rather than in init() so that CLI
// sub-commands that never touch the clipboard don't log the warning.
func New() Accessor {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return newHeadless(err.Error())
	}
	b := &desktopBackend{
		watchCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.poll()
	return b
}

func (b *desktopBackend) Name() string { return "desktop clipboard (poll)" }

func (b *desktopBackend) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-t.C:
			text := clipboard.Read(clipboard.FmtText)
			if !bytes.Equal(text, b.lastText) {
				b.lastText = text
				select {
				case b.watchCh <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *desktopBackend) Read() (string, error) {
	return string(clipboard.Read(clipboard.FmtText)), nil
}

func (b *desktopBackend) Write(content string) error {
	clipboard.Write(clipboard.FmtText, []byte(content))
	return nil
}

func (b *desktopBackend) Watch() <-chan struct{} { return b.watchCh }
func (b *desktopBackend) Close()                 { b.once.Do(func() { close(b.done) }) }
