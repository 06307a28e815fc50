package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Monitor pages for content drift and verify recommendations",
	Long: `driftwatch periodically re-fetches monitored pages, detects content changes
against the last committed fingerprint, checks whether outstanding
recommendations were implemented and sends the matching notification.

Configuration is read from CONFIG_PATH (default ./config.yaml) and the
environment.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
