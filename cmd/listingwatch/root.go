package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/amishk599/listingwatch/internal/adapter"
	"github.com/amishk599/listingwatch/internal/config"
	"github.com/amishk599/listingwatch/internal/geocode"
	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
	"github.com/amishk599/listingwatch/internal/pipeline"
	"github.com/amishk599/listingwatch/internal/poller"
	"github.com/amishk599/listingwatch/internal/ratelimit"
	"github.com/amishk599/listingwatch/internal/store"
)

var (
	cfgPath string
	envPath string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "listingwatch",
	Short: "Rental listing radar",
	Long:  "listingwatch polls property search results and alerts you to new listings.",
	// Default to `start` so that `listingwatch` with no args runs the daemon.
	RunE:          runStart,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envPath)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: LISTINGWATCH_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "optional dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// loadConfig resolves the config path and parses it.
// Priority: explicit path arg > LISTINGWATCH_CONFIG env var > "./config.yaml"
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("LISTINGWATCH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setupLogger(dbg bool) *slog.Logger {
	return newLogger(os.Stdout, isatty.IsTerminal(os.Stdout.Fd()), dbg)
}

func newLogger(w io.Writer, color, dbg bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if dbg {
		logLevel = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.DateTime,
		NoColor:    !color,
	}))
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func setupGeocoder(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) *geocode.Client {
	limiter := ratelimit.NewLimiter(cfg.Geocoding.RequestsPerWindow, cfg.Geocoding.Window)
	return geocode.NewClient(cfg.Geocoding.BaseURL, cfg.Geocoding.UserAgent, httpClient, limiter, logger)
}

func createProvider(name string, httpClient *http.Client, geocoder adapter.SuburbResolver, logger *slog.Logger) (model.Provider, bool) {
	switch name {
	case adapter.ImmoScoutName:
		return adapter.NewImmoScoutAdapter(httpClient, geocoder, logger), true
	default:
		return nil, false
	}
}

// buildPipelines creates one pipeline per provider used by jobs. Jobs sharing
// a provider share its search rate limiter.
func buildPipelines(cfg *config.Config, jobs []model.JobConfig, httpClient *http.Client, logger *slog.Logger) (map[string]*pipeline.Pipeline, error) {
	geocoder := setupGeocoder(cfg, httpClient, logger)

	pipelines := make(map[string]*pipeline.Pipeline)
	for _, job := range jobs {
		if _, ok := pipelines[job.Provider]; ok {
			continue
		}
		provider, ok := createProvider(job.Provider, httpClient, geocoder, logger)
		if !ok {
			return nil, fmt.Errorf("job %q: unsupported provider %q", job.Key, job.Provider)
		}
		if cfg.RateLimit.MinDelay > 0 {
			provider = ratelimit.NewRateLimitedProvider(provider, ratelimit.NewLimiter(1, cfg.RateLimit.MinDelay))
		}
		pipelines[job.Provider] = pipeline.New(provider, cfg.DetailConcurrency, logger)
		logger.Debug("registered provider", "provider", job.Provider, "min_delay", cfg.RateLimit.MinDelay.String())
	}
	return pipelines, nil
}

// setupRegistry registers every channel the config can serve. The returned
// close func releases channel connections.
func setupRegistry(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*notifier.Registry, func(), error) {
	b := notifier.NewBuilder().Register(
		notifier.NewLogChannel(logger),
		notifier.NewSlackChannel(cfg.Notification.Slack.WebhookURL, httpClient, logger),
		notifier.NewNtfyChannel(cfg.Notification.Ntfy.Server, httpClient, logger),
	)

	closeFn := func() {}
	if cfg.Notification.AMQP.URL != "" {
		amqpCh, err := notifier.DialAMQP(cfg.Notification.AMQP.URL, cfg.Notification.AMQP.Exchange, logger)
		if err != nil {
			return nil, nil, err
		}
		b.Register(amqpCh)
		closeFn = func() {
			if err := amqpCh.Close(); err != nil {
				logger.Warn("closing amqp channel", "error", err)
			}
		}
	}

	registry, err := b.Build(logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("notification channels registered", "channels", registry.IDs())
	return registry, closeFn, nil
}

type seenStore interface {
	model.SeenStore
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (seenStore, error) {
	if cfg.Store.Type == config.StoreRedis {
		s, err := store.NewRedisStore(ctx, cfg.Store.RedisURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func buildPollers(cfg *config.Config, pipelines map[string]*pipeline.Pipeline, seen model.SeenStore, registry *notifier.Registry, logger *slog.Logger) []*poller.JobPoller {
	var pollers []*poller.JobPoller
	for _, job := range cfg.EnabledJobs() {
		for _, ch := range job.Channels {
			if !registry.Has(ch.ID) {
				logger.Warn("job references an unregistered channel, it will be skipped", "job", job.Key, "channel", ch.ID)
			}
		}
		p := poller.NewJobPoller(job, cfg.ServiceName, pipelines[job.Provider], seen, registry, logger)
		pollers = append(pollers, p)
		logger.Info("registered job", "job", job.Key, "provider", job.Provider, "details", job.Details)
	}
	return pollers
}
