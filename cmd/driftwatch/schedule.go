package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/checker"
	"driftwatch/internal/models"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Start monitoring pages of a website",
	Long: `Create one monitoring target per page. The first check establishes the
content baseline and is due one interval from now.

Examples:
  driftwatch schedule --owner acme --website https://acme.com \
    --page https://acme.com/about --page https://acme.com/pricing --frequency weekly`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		website, _ := cmd.Flags().GetString("website")
		pages, _ := cmd.Flags().GetStringSlice("page")
		rawFreq, _ := cmd.Flags().GetString("frequency")

		freq, err := models.ParseFrequency(rawFreq)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		targets, err := a.engine.ScheduleTargets(cmd.Context(), checker.ScheduleInput{
			OwnerID:    owner,
			WebsiteURL: website,
			PageURLs:   pages,
			Frequency:  freq,
		}, time.Now().UTC())
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(targets); err != nil {
			return fmt.Errorf("encode targets: %w", err)
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("owner", "", "owner id of the new targets")
	scheduleCmd.Flags().String("website", "", "website url the pages belong to")
	scheduleCmd.Flags().StringSlice("page", nil, "page url to monitor (repeatable)")
	scheduleCmd.Flags().String("frequency", string(models.FrequencyWeekly), "check frequency: daily, weekly or monthly")
	scheduleCmd.MarkFlagRequired("owner")
	scheduleCmd.MarkFlagRequired("website")
	scheduleCmd.MarkFlagRequired("page")
	rootCmd.AddCommand(scheduleCmd)
}
