package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/clip"
	"go.klb.dev/corridor/internal/engine"
	"go.klb.dev/corridor/internal/history"
	"go.klb.dev/corridor/internal/ipc"
	"go.klb.dev/corridor/internal/kv"
	"go.klb.dev/corridor/internal/logging"
	"go.klb.dev/corridor/internal/supervisor"
	"go.klb.dev/corridor/internal/transport"
)

func newSyncCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the clipboard sync daemon",
		Long: `Watches the local clipboard and keeps it in sync with every other device
using the same token.

The daemon connects over WebSocket, reconnects with exponential backoff and
switches to HTTP polling after repeated WebSocket failures. History is kept
on disk, encrypted with a key derived from the token.

A local control socket lets "corridor copy/paste/status/clear/retry" talk to
the running daemon.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runSync(v) },
	}

	f := cmd.Flags()
	addRelayFlags(cmd)
	f.Int("min-token-len", supervisor.DefaultMinTokenLen, "minimum token length")
	f.Int("max-content-len", engine.DefaultMaxContentLen, "largest clipboard text synced, in bytes")
	f.Duration("debounce", engine.DefaultDebounce, "quiet period before a local change is sent")
	f.Int("history-cap", history.DefaultCap, "number of history items kept")
	f.Duration("base-delay", supervisor.DefaultBaseDelay, "first reconnect delay")
	f.Duration("max-delay", supervisor.DefaultMaxDelay, "reconnect delay ceiling")
	f.Int("max-attempts", supervisor.DefaultMaxAttempts, "reconnect attempts before giving up (retry resets)")
	f.Int("fallback-after", supervisor.DefaultFallbackAfter, "failed WebSocket dials before switching to polling")
	f.Duration("probe-interval", supervisor.DefaultProbeInterval, "how often the WebSocket is retried while polling")
	f.Duration("poll-interval", transport.DefaultPollInterval, "HTTP polling interval")
	f.Duration("ping-interval", supervisor.DefaultPingInterval, "keepalive ping interval")
	f.Duration("watchdog", supervisor.DefaultWatchdog, "silence after which the connection is dropped")
	f.String("store", "", "history store: sqlite path, sqlite://, redis://, memory:// (default ~/.corridor/corridor.db)")
	f.String("clipboard", "system", "clipboard backend: system|memory")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runSync(v *viper.Viper) error {
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	token := v.GetString("token")
	if token == "" {
		return errors.New("--token is required")
	}
	if ipc.IsRunning() {
		return fmt.Errorf("a sync daemon is already running (%s)", ipc.SocketPath())
	}

	acc, err := newClipboard(v.GetString("clipboard"))
	if err != nil {
		return err
	}
	defer acc.Close()

	storeURL := v.GetString("store")
	if storeURL == "" {
		if storeURL, err = kv.DefaultPath(); err != nil {
			return err
		}
	}
	store, err := kv.Open(ctx, storeURL)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	persist, err := history.NewPersistence(store, token)
	if err != nil {
		return err
	}

	primary, fallback, err := dialers(v)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		MinTokenLen:   v.GetInt("min-token-len"),
		BaseDelay:     v.GetDuration("base-delay"),
		MaxDelay:      v.GetDuration("max-delay"),
		MaxAttempts:   v.GetInt("max-attempts"),
		FallbackAfter: v.GetInt("fallback-after"),
		ProbeInterval: v.GetDuration("probe-interval"),
		PingInterval:  v.GetDuration("ping-interval"),
		Watchdog:      v.GetDuration("watchdog"),
	}, primary, fallback)
	if err != nil {
		return err
	}

	eng, err := engine.New(engine.Config{
		Token:         token,
		MinTokenLen:   v.GetInt("min-token-len"),
		MaxContentLen: v.GetInt("max-content-len"),
		Debounce:      v.GetDuration("debounce"),
		HistoryCap:    v.GetInt("history-cap"),
	}, sup, acc, persist)
	if err != nil {
		return err
	}

	ln, err := ipc.Listen()
	if err != nil {
		return err
	}
	go func() {
		if err := ipc.Serve(ctx, ln, eng); err != nil {
			slog.Error("control socket stopped", "err", err)
		}
	}()

	notes, unsubscribe := eng.Subscribe()
	defer unsubscribe()
	go logNotifications(ctx, notes)

	slog.Info("corridor sync starting",
		"version", Version,
		"relay", v.GetString("ws-url"),
		"token", logging.RedactToken(token),
		"store", storeURL,
		"socket", ipc.SocketPath(),
	)
	return eng.Run(ctx)
}

// dialers builds the WebSocket dialer and its HTTP polling fallback.
func dialers(v *viper.Viper) (transport.Dialer, transport.Dialer, error) {
	api, err := relayAPI(v)
	if err != nil {
		return nil, nil, err
	}
	tlsCfg, err := clientTLS(v)
	if err != nil {
		return nil, nil, err
	}
	primary := &transport.WebSocketDialer{
		URL:       v.GetString("ws-url"),
		TLSConfig: tlsCfg,
	}
	fallback := &transport.PollingDialer{
		API:      api,
		Interval: v.GetDuration("poll-interval"),
	}
	return primary, fallback, nil
}

func newClipboard(kind string) (clip.Accessor, error) {
	switch kind {
	case "", "system":
		return clip.New(), nil
	case "memory":
		return clip.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown clipboard backend %q (want system or memory)", kind)
	}
}

// logNotifications reports what the engine surfaces to a user interface.
func logNotifications(ctx context.Context, ch <-chan engine.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			switch n := n.(type) {
			case engine.StateChanged:
				if n.Err != nil {
					slog.Info("connection state", "state", n.State, "err", n.Err)
				} else {
					slog.Info("connection state", "state", n.State)
				}
			case engine.HistoryChanged:
				slog.Debug("history changed", "items", len(n.Items))
			case engine.Warning:
				// Logged where it is raised.
			}
		}
	}
}
