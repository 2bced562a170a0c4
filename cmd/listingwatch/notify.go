package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Notification subcommands",
}

var notifyTestCmd = &cobra.Command{
	Use:   "test [job]",
	Short: "Send a test notification",
	Long:  "Sends a sample listing through the notification channels of the given job (default: the first enabled job).",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runNotifyTest,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var job model.JobConfig
	if len(args) == 1 {
		j, ok := cfg.Job(args[0])
		if !ok {
			logger.Error("unknown job", "job", args[0])
			os.Exit(1)
		}
		job = j
	} else {
		job = cfg.EnabledJobs()[0]
	}
	if len(job.Channels) == 0 {
		logger.Error("job has no notification channels", "job", job.Key)
		os.Exit(1)
	}

	registry, closeChannels, err := setupRegistry(cfg, newHTTPClient(), logger)
	if err != nil {
		logger.Error("failed to set up notification channels", "error", err)
		os.Exit(1)
	}
	defer closeChannels()

	if err := notifier.SendTestMessage(context.Background(), registry, cfg.ServiceName, job); err != nil {
		logger.Error("test notification failed", "job", job.Key, "error", err)
		os.Exit(1)
	}
	logger.Info("test notification sent successfully", "job", job.Key)
	return nil
}
