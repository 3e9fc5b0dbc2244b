package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Fleet exception detection and durable action outbox",
	Long: "sentinel evaluates driver telemetry against the exception rules and " +
		"delivers queued driver actions to the backend at least once.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(outboxCmd)
}
