package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/logging"
)

const envPrefix = "CORRIDOR"

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CORRIDOR_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CORRIDOR_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	// A .env next to the working directory feeds the environment; real
	// environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("corridor")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc/corridor/")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(fmt.Sprintf("%s/.config/corridor", home))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addRelayFlags adds the flags that locate and authenticate against a relay.
func addRelayFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("token", "", "shared sync token (same on every device)")
	f.String("ws-url", "ws://localhost:8080/ws", "relay WebSocket URL")
	f.String("http-url", "", "relay HTTP base URL (default: derived from --ws-url)")
	f.String("tls-passphrase", "", "verify a self-hosted relay's passphrase-derived TLS key")
}

// setupLogging reads logging flags from viper and configures slog.
func setupLogging(v *viper.Viper) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"))
}
