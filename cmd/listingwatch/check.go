package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/poller"
	"github.com/amishk599/listingwatch/internal/preview"
	"github.com/amishk599/listingwatch/internal/store"
)

var (
	checkJob    string
	checkNotify bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Poll once, print listings, exit",
	Long:  "One-shot poll of every enabled job (or one job with --job). Prints current listings and exits. Does not write to the store.",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkJob, "job", "", "only check the job with this key")
	checkCmd.Flags().BoolVar(&checkNotify, "notify", false, "also send the listings through the job's channels")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	// Logs go to stderr and are held while the spinner draws on stdout.
	logs := preview.NewLogHold(os.Stderr)
	logger := newLogger(logs, isatty.IsTerminal(os.Stderr.Fd()), debug)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	jobs := cfg.EnabledJobs()
	if checkJob != "" {
		job, ok := cfg.Job(checkJob)
		if !ok {
			logger.Error("unknown job", "job", checkJob)
			os.Exit(1)
		}
		jobs = []model.JobConfig{job}
	}

	logger.Info("check mode: no listings will be marked as seen")

	httpClient := newHTTPClient()
	pipelines, err := buildPipelines(cfg, jobs, httpClient, logger)
	if err != nil {
		logger.Error("failed to set up providers", "error", err)
		os.Exit(1)
	}

	var next preview.Dispatcher
	if checkNotify {
		registry, closeChannels, err := setupRegistry(cfg, httpClient, logger)
		if err != nil {
			logger.Error("failed to set up notification channels", "error", err)
			os.Exit(1)
		}
		defer closeChannels()
		next = registry
	}
	collector := preview.NewCollector(next)
	nopStore := store.NewNopStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := isatty.IsTerminal(os.Stdout.Fd())
	for _, job := range jobs {
		p := poller.NewJobPoller(job, cfg.ServiceName, pipelines[job.Provider], nopStore, collector, logger)
		poll := func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.Poll(ctx)
		}

		if interactive {
			logs.Hold()
			_, err = preview.RunWithSpinner(ctx, "Polling "+job.Key, poll)
			logs.Release()
			if errors.Is(err, preview.ErrCancelled) {
				return nil
			}
		} else {
			_, err = poll(ctx)
		}
		if err != nil {
			logger.Error("check failed", "job", job.Key, "error", err)
			continue
		}

		preview.RenderListings(os.Stdout, job.Key, collector.Listings(job.Key))
	}

	logger.Info("check complete")
	return nil
}
