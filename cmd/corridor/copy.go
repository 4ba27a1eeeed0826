package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/message"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the shared clipboard (like pbcopy)",
		Long: `Reads stdin and publishes it to every device sharing the token.

If a local sync daemon is running it is used through the control socket, which
also puts the text on this machine's clipboard. Otherwise the text is pushed
straight to the relay over HTTP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runCopy(cmd, v) },
	}

	addRelayFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runCopy(cmd *cobra.Command, v *viper.Viper) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	content := string(data)

	if useDaemon(cmd) {
		_, err := callDaemon(message.Command{Op: message.OpCopy, Content: content})
		if err == nil || !errors.Is(err, errNoDaemon) {
			return err
		}
		slog.Debug("daemon unavailable, pushing to relay", "err", err)
	}

	token, err := requireToken(v)
	if err != nil {
		return err
	}
	api, err := relayAPI(v)
	if err != nil {
		return err
	}
	if _, err := api.Push(context.Background(), token, content); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
