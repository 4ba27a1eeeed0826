// corridor: clipboard sync through a token-keyed relay.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/corridor/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "corridor",
		Short: "Clipboard sync across devices sharing a token",
		Long: `corridor keeps the clipboard of every device that shares a token in sync
through a relay. Devices reconnect with backoff, fall back to HTTP polling
when the WebSocket is unavailable, and never echo back what they received.

Run "corridor relay" on a reachable host and "corridor sync" on each device.
Use "corridor copy/paste/status/clear/retry" as CLI tools next to a running
sync daemon.

Config file search order (first found wins):
  /etc/corridor/corridor.toml
  $HOME/.config/corridor/corridor.toml
  path supplied via --config

All flags can be set via CORRIDOR_<FLAG> env vars (also read from a .env file
in the working directory) or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newSyncCmd(),
		newRelayCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newStatusCmd(),
		newClearCmd(),
		newRetryCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("corridor %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
