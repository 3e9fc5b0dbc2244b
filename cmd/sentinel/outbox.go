package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fleet-monitor/sentinel/internal/domain"
	"fleet-monitor/sentinel/internal/outbox"
)

var outboxPath string

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Inspect the local action outbox",
	Long: "outbox opens the badger directory directly. Stop the server first; " +
		"badger allows a single process per directory.",
}

func openOutbox() (*outbox.Store, func(), error) {
	kv, err := outbox.OpenBadger(outbox.BadgerConfig{Path: outboxPath, SyncWrites: true})
	if err != nil {
		return nil, nil, err
	}
	st := outbox.NewStore(kv)
	if err := st.Load(); err != nil {
		kv.Close()
		return nil, nil, err
	}
	return st, func() { kv.Close() }, nil
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued and quarantined actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, done, err := openOutbox()
		if err != nil {
			return err
		}
		defer done()

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		out := cmd.OutOrStdout()

		pending := st.Pending()
		fmt.Fprintf(out, "%s %d\n", cyan("queued:"), len(pending))
		for _, a := range pending {
			printAction(cmd, a, gray)
		}

		quarantined := st.Quarantined()
		fmt.Fprintf(out, "%s %d\n", red("quarantined:"), len(quarantined))
		for _, a := range quarantined {
			printAction(cmd, a, red)
		}
		return nil
	},
}

func printAction(cmd *cobra.Command, a domain.QueuedAction, accent func(...any) string) {
	line := fmt.Sprintf("  %s %-16s %-8s retries=%d/%d", a.ID, a.Type, a.Priority, a.Retries, a.MaxRetries)
	if a.LastError != "" {
		line += " " + accent(a.LastError)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Move a quarantined action back to the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, done, err := openOutbox()
		if err != nil {
			return err
		}
		defer done()

		a, err := st.Requeue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s requeued %s (%s)\n", color.GreenString("✓"), a.ID, a.Type)
		return nil
	},
}

func init() {
	defaultPath := os.Getenv("OUTBOX_PATH")
	if defaultPath == "" {
		defaultPath = "data/outbox"
	}
	outboxCmd.PersistentFlags().StringVar(&outboxPath, "path", defaultPath, "badger directory of the outbox")
	outboxCmd.AddCommand(outboxStatusCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)
}
