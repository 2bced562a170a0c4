package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/listingwatch/internal/preview"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List all configured search jobs",
	Long:  "Reads the config and prints a table of all configured search jobs.",
	RunE:  runJobs,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	rows := make([]preview.JobRow, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		interval := j.Interval
		if interval == 0 {
			interval = cfg.PollingInterval
		}
		channels := make([]string, 0, len(j.Channels))
		for _, c := range j.Channels {
			channels = append(channels, c.ID)
		}
		rows = append(rows, preview.JobRow{
			Key:      j.Key,
			Provider: j.Provider,
			Interval: interval,
			Details:  j.Details,
			Channels: channels,
			Enabled:  j.Enabled,
		})
	}

	preview.RenderJobs(os.Stdout, rows)
	return nil
}
