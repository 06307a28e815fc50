package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run one monitoring pass and print its summary",
	Long: `Run a single monitoring pass over every due target and print the pass
summary as JSON. Suitable for cron-style scheduling; targets that are not
due are left alone, so running it more often than needed is harmless.

Exits with status 2 when any target failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		summary := a.engine.RunPass(ctx, time.Now().UTC())
		if err := a.Close(); err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return fmt.Errorf("encode summary: %w", err)
		}
		if failOnError, _ := cmd.Flags().GetBool("fail-on-error"); failOnError && summary.Errors > 0 {
			os.Exit(2)
		}
		return nil
	},
}

func init() {
	passCmd.Flags().Bool("fail-on-error", true, "exit with status 2 when any target failed")
	rootCmd.AddCommand(passCmd)
}
