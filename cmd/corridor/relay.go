package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/history"
	"go.klb.dev/corridor/internal/kv"
	"go.klb.dev/corridor/internal/relay"
	"go.klb.dev/corridor/internal/tlsconf"
)

func newRelayCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the relay that devices sync through",
		Long: `Serves token rooms to sync clients.

  GET  /health
  GET  /ws?token=<token>       WebSocket
  GET  /clipboard/<token>      poll history
  POST /clipboard/<token>      push {content} or {action:"clear"}

Rooms live in memory unless --store is set, in which case each room's history
is persisted encrypted with a key derived from its token.

With --tls-passphrase the relay serves TLS using a key derived from the
passphrase; clients started with the same passphrase verify it.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runRelay(v) },
	}

	f := cmd.Flags()
	f.String("addr", relay.DefaultAddr, "listen address")
	f.String("store", "", "room store: sqlite path, sqlite://, redis://, memory:// (default: in memory)")
	f.String("tls-passphrase", "", "serve TLS with a key derived from this passphrase")
	f.StringSlice("allowed-tokens", nil, "only accept these tokens (default: any long enough token)")
	f.Int("min-token-len", relay.DefaultMinTokenLen, "minimum token length")
	f.Int("max-content-len", relay.DefaultMaxContentLen, "largest accepted update, in bytes")
	f.Int("history-cap", history.DefaultCap, "history items kept per room")
	f.Float64("rate", relay.DefaultRatePerSecond, "updates per second allowed per token")
	f.Int("rate-burst", relay.DefaultRateBurst, "update burst allowed per token")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runRelay(v *viper.Viper) error {
	setupLogging(v)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := relay.Config{
		Addr:          v.GetString("addr"),
		MinTokenLen:   v.GetInt("min-token-len"),
		AllowedTokens: v.GetStringSlice("allowed-tokens"),
		MaxContentLen: v.GetInt("max-content-len"),
		HistoryCap:    v.GetInt("history-cap"),
		RatePerSecond: v.GetFloat64("rate"),
		RateBurst:     v.GetInt("rate-burst"),
	}

	if storeURL := v.GetString("store"); storeURL != "" {
		store, err := kv.Open(ctx, storeURL)
		if err != nil {
			return fmt.Errorf("open room store: %w", err)
		}
		defer store.Close()
		cfg.Store = store
	}

	if passphrase := v.GetString("tls-passphrase"); passphrase != "" {
		tlsCfg, err := tlsconf.ServerConfig(passphrase)
		if err != nil {
			return err
		}
		cfg.TLSConfig = tlsCfg
	}

	slog.Info("corridor relay starting", "version", Version, "persistent", cfg.Store != nil)
	return relay.New(cfg).ListenAndServe(ctx)
}
