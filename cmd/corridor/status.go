package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/corridor/internal/ipc"
	"go.klb.dev/corridor/internal/message"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync daemon's connection state",
		Long: `Asks the running sync daemon for its connection state, active transport,
retry attempt and history size.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	reply, err := callDaemon(message.Command{Op: message.OpStatus})
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	if reply.Status == nil {
		return fmt.Errorf("status: daemon sent no status")
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(reply.Status, "", "  ")
		fmt.Println(string(enc))
		return nil
	}
	printStatus(reply.Status)
	return nil
}

func printStatus(st *message.StatusInfo) {
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Socket:\t%s\n", ipc.SocketPath())
	fmt.Fprintf(w, "Token:\t%s\n", st.Token)
	fmt.Fprintf(w, "State:\t%s\n", st.State)
	if st.Transport != "" {
		fmt.Fprintf(w, "Transport:\t%s\n", st.Transport)
	}
	if st.Attempt > 0 {
		fmt.Fprintf(w, "Attempt:\t%d\n", st.Attempt)
	}
	if !st.ConnectedAt.IsZero() {
		fmt.Fprintf(w, "Connected:\t%s (%s)\n", st.ConnectedAt.UTC().Format(time.RFC3339), fmtAge(st.ConnectedAt))
	}
	if !st.LastAlive.IsZero() {
		fmt.Fprintf(w, "Last seen:\t%s\n", fmtAge(st.LastAlive))
	}
	if st.RTTMillis > 0 {
		fmt.Fprintf(w, "RTT:\t%.1f ms\n", st.RTTMillis)
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error:\t%s\n", st.LastError)
	}
	fmt.Fprintf(w, "History:\t%d items\n", st.HistoryLen)
	fmt.Fprintf(w, "Clipboard:\t%s\n", st.Backend)
	_ = w.Flush()
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return fmt.Sprintf("%ds ago", int(age.Seconds()))
	}
	if age < time.Hour {
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	}
	return t.Format("15:04:05")
}
