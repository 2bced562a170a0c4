package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/listingwatch/internal/scheduler"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the polling daemon",
	Long:  "Start the scheduler daemon; blocks until SIGINT/SIGTERM.",
	RunE:  runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("config loaded",
		"interval", cfg.PollingInterval.String(),
		"jobs", len(cfg.Jobs),
		"enabled", len(cfg.EnabledJobs()),
		"store", cfg.Store.Type,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seen, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer seen.Close()

	httpClient := newHTTPClient()

	registry, closeChannels, err := setupRegistry(cfg, httpClient, logger)
	if err != nil {
		logger.Error("failed to set up notification channels", "error", err)
		os.Exit(1)
	}
	defer closeChannels()

	pipelines, err := buildPipelines(cfg, cfg.EnabledJobs(), httpClient, logger)
	if err != nil {
		logger.Error("failed to set up providers", "error", err)
		os.Exit(1)
	}

	jobPollers := buildPollers(cfg, pipelines, seen, registry, logger)
	pollers := make([]scheduler.Poller, 0, len(jobPollers))
	for _, p := range jobPollers {
		pollers = append(pollers, p)
	}

	sched := scheduler.NewScheduler(pollers, cfg.PollingInterval, cfg.PollTimeout, logger).
		WithCleanup(seen, cfg.Store.Retention)
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler error", "error", err)
		os.Exit(1)
	}

	logger.Info("goodbye")
	return nil
}
