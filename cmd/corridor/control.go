package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/message"
)

func newClearCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear the shared clipboard history",
		Long: `Clears the history on this device and on the relay, which tells every
other device to do the same. Without a running daemon the relay is asked
directly over HTTP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runClear(cmd, v) },
	}

	addRelayFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runClear(cmd *cobra.Command, v *viper.Viper) error {
	if useDaemon(cmd) {
		_, err := callDaemon(message.Command{Op: message.OpClear})
		if err == nil || !errors.Is(err, errNoDaemon) {
			return err
		}
	}
	token, err := requireToken(v)
	if err != nil {
		return err
	}
	api, err := relayAPI(v)
	if err != nil {
		return err
	}
	if err := api.Clear(context.Background(), token); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reconnect the sync daemon now",
		Long: `Tells the running sync daemon to skip its reconnect delay and try again
immediately. After giving up on retries, this starts a fresh round.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := callDaemon(message.Command{Op: message.OpRetry}); err != nil {
				return fmt.Errorf("retry: %w", err)
			}
			return nil
		},
	}
}
