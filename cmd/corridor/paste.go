package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/message"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print the shared clipboard to stdout (like pbpaste)",
		Long: `Writes the newest history item to stdout. With --all, prints every item,
newest first, separated by blank lines.

Uses the local sync daemon when one is running, otherwise polls the relay.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(cmd *cobra.Command, _ []string) error { return runPaste(cmd, v) },
	}

	addRelayFlags(cmd)
	cmd.Flags().Bool("all", false, "print the whole history")
	addConfigFlag(cmd)

	return cmd
}

func runPaste(cmd *cobra.Command, v *viper.Viper) error {
	items, err := fetchItems(cmd, v)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		// Empty history prints nothing, like pbpaste on an empty clipboard.
		return nil
	}
	if !v.GetBool("all") {
		_, err = os.Stdout.WriteString(items[0].Content)
		return err
	}
	for i, it := range items {
		if i > 0 {
			fmt.Println()
			fmt.Println()
		}
		if _, err := os.Stdout.WriteString(it.Content); err != nil {
			return err
		}
	}
	return nil
}

func fetchItems(cmd *cobra.Command, v *viper.Viper) ([]message.Item, error) {
	if useDaemon(cmd) {
		reply, err := callDaemon(message.Command{Op: message.OpPaste})
		if err == nil {
			return reply.Items, nil
		}
	}
	token, err := requireToken(v)
	if err != nil {
		return nil, err
	}
	api, err := relayAPI(v)
	if err != nil {
		return nil, err
	}
	items, err := api.Fetch(context.Background(), token)
	if err != nil {
		return nil, fmt.Errorf("paste: %w", err)
	}
	return items, nil
}
