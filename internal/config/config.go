// Package config loads the listingwatch YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
)

const (
	defaultServiceName       = "listingwatch"
	defaultStorePath         = "listingwatch.db"
	defaultRetention         = 30 * 24 * time.Hour
	defaultPollTimeout       = 2 * time.Minute
	defaultDetailConcurrency = 4
	defaultMinDelay          = 2 * time.Second
	defaultGeocodeRequests   = 1
	defaultGeocodeWindow     = time.Second
	defaultAMQPExchange      = "listingwatch"

	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config is the root configuration for listingwatch.
type Config struct {
	ServiceName       string
	PollingInterval   time.Duration
	PollTimeout       time.Duration
	DetailConcurrency int
	Store             StoreConfig
	Geocoding         GeocodingConfig
	RateLimit         RateLimitConfig
	Notification      NotificationConfig
	Jobs              []model.JobConfig
}

// EnabledJobs returns the jobs with enabled set, in config order.
func (c *Config) EnabledJobs() []model.JobConfig {
	var out []model.JobConfig
	for _, j := range c.Jobs {
		if j.Enabled {
			out = append(out, j)
		}
	}
	return out
}

// Job returns the job with the given key.
func (c *Config) Job(key string) (model.JobConfig, bool) {
	for _, j := range c.Jobs {
		if j.Key == key {
			return j, true
		}
	}
	return model.JobConfig{}, false
}

// StoreConfig selects and configures the seen store.
type StoreConfig struct {
	Type      string // "sqlite" or "redis"
	Path      string
	RedisURL  string
	Retention time.Duration
}

// GeocodingConfig configures the reverse geocoder used during enrichment.
type GeocodingConfig struct {
	BaseURL           string
	UserAgent         string
	RequestsPerWindow int
	Window            time.Duration
}

// RateLimitConfig spaces search requests to the same provider.
type RateLimitConfig struct {
	MinDelay time.Duration
}

// NotificationConfig holds channel-wide defaults. Per-job settings live on
// each job's notification_channels entry.
type NotificationConfig struct {
	Slack SlackConfig `yaml:"slack"`
	Ntfy  NtfyConfig  `yaml:"ntfy"`
	AMQP  AMQPConfig  `yaml:"amqp"`
}

type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type NtfyConfig struct {
	Server string `yaml:"server"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	ServiceName       string             `yaml:"service_name"`
	PollingInterval   string             `yaml:"polling_interval"`
	PollTimeout       string             `yaml:"poll_timeout"`
	DetailConcurrency int                `yaml:"detail_concurrency"`
	Store             rawStoreConfig     `yaml:"store"`
	Geocoding         rawGeocodingConfig `yaml:"geocoding"`
	RateLimit         rawRateLimitConfig `yaml:"rate_limit"`
	Notification      NotificationConfig `yaml:"notification"`
	Jobs              []rawJobConfig     `yaml:"jobs"`
}

type rawStoreConfig struct {
	Type      string `yaml:"type"`
	Path      string `yaml:"path"`
	RedisURL  string `yaml:"redis_url"`
	Retention string `yaml:"retention"`
}

type rawGeocodingConfig struct {
	BaseURL           string `yaml:"base_url"`
	UserAgent         string `yaml:"user_agent"`
	RequestsPerWindow int    `yaml:"requests_per_window"`
	Window            string `yaml:"window"`
}

type rawRateLimitConfig struct {
	MinDelay string `yaml:"min_delay"`
}

type rawJobConfig struct {
	Key       string                `yaml:"key"`
	Provider  string                `yaml:"provider"`
	URL       string                `yaml:"url"`
	Enabled   *bool                 `yaml:"enabled"`
	Interval  string                `yaml:"interval"`
	Details   bool                  `yaml:"details"`
	Blacklist []string              `yaml:"blacklist"`
	Channels  []model.ChannelConfig `yaml:"notification_channels"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// Load reads and parses the YAML config file at path, validates it, and returns Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	interval, err := time.ParseDuration(raw.PollingInterval)
	if err != nil {
		return nil, fmt.Errorf("parse polling_interval %q: %w", raw.PollingInterval, err)
	}

	pollTimeout, err := durationOr(raw.PollTimeout, defaultPollTimeout, "poll_timeout")
	if err != nil {
		return nil, err
	}
	retention, err := durationOr(raw.Store.Retention, defaultRetention, "store.retention")
	if err != nil {
		return nil, err
	}
	geocodeWindow, err := durationOr(raw.Geocoding.Window, defaultGeocodeWindow, "geocoding.window")
	if err != nil {
		return nil, err
	}
	minDelay, err := durationOr(raw.RateLimit.MinDelay, defaultMinDelay, "rate_limit.min_delay")
	if err != nil {
		return nil, err
	}

	jobs := make([]model.JobConfig, 0, len(raw.Jobs))
	for i, rj := range raw.Jobs {
		jobInterval, err := durationOr(rj.Interval, 0, fmt.Sprintf("jobs[%d].interval", i))
		if err != nil {
			return nil, err
		}
		enabled := true
		if rj.Enabled != nil {
			enabled = *rj.Enabled
		}
		jobs = append(jobs, model.JobConfig{
			Key:       strings.TrimSpace(rj.Key),
			Provider:  strings.ToLower(strings.TrimSpace(rj.Provider)),
			URL:       strings.TrimSpace(rj.URL),
			Enabled:   enabled,
			Details:   rj.Details,
			Blacklist: rj.Blacklist,
			Channels:  rj.Channels,
			Interval:  jobInterval,
		})
	}

	cfg := &Config{
		ServiceName:       withDefault(raw.ServiceName, defaultServiceName),
		PollingInterval:   interval,
		PollTimeout:       pollTimeout,
		DetailConcurrency: raw.DetailConcurrency,
		Store: StoreConfig{
			Type:      strings.ToLower(withDefault(raw.Store.Type, StoreSQLite)),
			Path:      withDefault(raw.Store.Path, defaultStorePath),
			RedisURL:  raw.Store.RedisURL,
			Retention: retention,
		},
		Geocoding: GeocodingConfig{
			BaseURL:           raw.Geocoding.BaseURL,
			UserAgent:         raw.Geocoding.UserAgent,
			RequestsPerWindow: raw.Geocoding.RequestsPerWindow,
			Window:            geocodeWindow,
		},
		RateLimit:    RateLimitConfig{MinDelay: minDelay},
		Notification: raw.Notification,
		Jobs:         jobs,
	}
	if cfg.DetailConcurrency == 0 {
		cfg.DetailConcurrency = defaultDetailConcurrency
	}
	if cfg.Geocoding.RequestsPerWindow == 0 {
		cfg.Geocoding.RequestsPerWindow = defaultGeocodeRequests
	}
	if cfg.Notification.AMQP.Exchange == "" {
		cfg.Notification.AMQP.Exchange = defaultAMQPExchange
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func durationOr(s string, def time.Duration, field string) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	return d, nil
}

func withDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

func validate(cfg *Config) error {
	if cfg.PollingInterval <= 0 {
		return fmt.Errorf("polling_interval must be positive, got %v", cfg.PollingInterval)
	}
	if cfg.DetailConcurrency < 1 {
		return fmt.Errorf("detail_concurrency must be positive, got %d", cfg.DetailConcurrency)
	}
	if cfg.Geocoding.RequestsPerWindow < 1 || cfg.Geocoding.Window <= 0 {
		return fmt.Errorf("geocoding rate limit must allow at least 1 request per positive window")
	}

	switch cfg.Store.Type {
	case StoreSQLite:
	case StoreRedis:
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required when store.type is %q", StoreRedis)
		}
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q", StoreSQLite, StoreRedis, cfg.Store.Type)
	}

	keys := make(map[string]bool, len(cfg.Jobs))
	enabled := 0
	for i, j := range cfg.Jobs {
		if j.Key == "" {
			return fmt.Errorf("jobs[%d].key is required", i)
		}
		if keys[j.Key] {
			return fmt.Errorf("duplicate job key %q", j.Key)
		}
		keys[j.Key] = true
		if j.Provider == "" {
			return fmt.Errorf("job %q: provider is required", j.Key)
		}
		if j.URL == "" {
			return fmt.Errorf("job %q: url is required", j.Key)
		}
		if j.Interval < 0 {
			return fmt.Errorf("job %q: interval must not be negative", j.Key)
		}
		if err := validateChannels(cfg, j); err != nil {
			return err
		}
		if j.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("at least one job must be enabled")
	}

	return nil
}

func validateChannels(cfg *Config, j model.JobConfig) error {
	for _, ch := range j.Channels {
		switch ch.ID {
		case "":
			return fmt.Errorf("job %q: notification channel without id", j.Key)
		case notifier.SlackChannelID:
			url := ch.Settings[notifier.SlackWebhookSetting]
			if url == "" {
				url = cfg.Notification.Slack.WebhookURL
			}
			if !strings.HasPrefix(url, notifier.SlackWebhookPrefix) {
				return fmt.Errorf("job %q: slack %s must start with %s", j.Key, notifier.SlackWebhookSetting, notifier.SlackWebhookPrefix)
			}
		case notifier.NtfyChannelID:
			if ch.Settings[notifier.NtfyTopicSetting] == "" {
				return fmt.Errorf("job %q: ntfy %s is required", j.Key, notifier.NtfyTopicSetting)
			}
		case notifier.AMQPChannelID:
			if cfg.Notification.AMQP.URL == "" {
				return fmt.Errorf("job %q: notification.amqp.url is required for the amqp channel", j.Key)
			}
		}
	}
	return nil
}
