// Package ipc is the local channel CLI tools (copy/paste/status/clear/retry)
// use to talk to a running `corridor sync` daemon instead of reaching the
// relay themselves.
//
// Each connection carries one newline-delimited JSON message.Command and its
// message.Reply. The daemon listens on a Unix socket (a named pipe on
// Windows); CLI sub-commands probe for it and fall back to the relay's HTTP
// API if it is absent.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"go.klb.dev/corridor/internal/message"
	"go.klb.dev/corridor/internal/wire"
)

const callTimeout = 10 * time.Second

// Handler answers commands. *engine.Engine implements it.
type Handler interface {
	Handle(ctx context.Context, cmd message.Command) message.Reply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd message.Command) message.Reply

func (f HandlerFunc) Handle(ctx context.Context, cmd message.Command) message.Reply {
	return f(ctx, cmd)
}

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/corridor.sock, else $TMPDIR/corridor.sock
//   - macOS:   $TMPDIR/corridor.sock
//   - Windows: \\.\pipe\corridor
//
// $CORRIDOR_SOCKET overrides all of them.
func SocketPath() string {
	if s := os.Getenv("CORRIDOR_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a sync daemon appears to be listening. It does a
// cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen returns a listener on the IPC socket path, removing any stale
// socket file first.
func Listen() (net.Listener, error) {
	return ListenAt(SocketPath())
}

// ListenAt is Listen for an explicit path.
func ListenAt(path string) (net.Listener, error) {
	// Remove stale socket from a previous (crashed) run.
	_ = os.Remove(path)
	ln, err := listenIPC(path)
	if err != nil {
		return nil, fmt.Errorf("ipc listen %s: %w", path, err)
	}
	return ln, nil
}

// Serve answers connections on ln until ctx is cancelled or ln fails.
func Serve(ctx context.Context, ln net.Listener, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("ipc accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(ctx, conn, h)
		}()
	}
}

func serveConn(ctx context.Context, conn net.Conn, h Handler) {
	c := wire.New(conn)
	defer c.Close()

	c.SetReadDeadline(callTimeout)
	var cmd message.Command
	if err := c.ReadMsg(&cmd); err != nil {
		slog.Debug("ipc read failed", "err", err)
		return
	}
	slog.Debug("ipc command", "op", cmd.Op)
	if err := c.WriteMsg(h.Handle(ctx, cmd)); err != nil {
		slog.Debug("ipc write failed", "err", err)
	}
}

// Call sends cmd to the daemon at SocketPath and returns its reply.
func Call(cmd message.Command) (message.Reply, error) {
	return CallAt(SocketPath(), cmd)
}

// CallAt is Call for an explicit path.
func CallAt(path string, cmd message.Command) (message.Reply, error) {
	conn, err := dialIPC(path)
	if err != nil {
		return message.Reply{}, fmt.Errorf("ipc dial: %w", err)
	}
	c := wire.New(conn)
	defer c.Close()

	if err := c.WriteMsg(cmd); err != nil {
		return message.Reply{}, fmt.Errorf("ipc send: %w", err)
	}
	c.SetReadDeadline(callTimeout)
	var reply message.Reply
	if err := c.ReadMsg(&reply); err != nil {
		return message.Reply{}, fmt.Errorf("ipc reply: %w", err)
	}
	return reply, nil
}
