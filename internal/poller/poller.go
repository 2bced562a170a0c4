// Package poller runs one job end to end: ingest, notify, remember.
package poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
	"github.com/amishk599/listingwatch/internal/pipeline"
)

// Dispatcher delivers a payload to the job's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, p notifier.Payload) error
}

// Ingester runs the ingestion pipeline for a job.
type Ingester interface {
	Run(ctx context.Context, job model.JobConfig, seen pipeline.SeenFunc) pipeline.Result
}

// JobPoller owns the full poll cycle for a single job:
// ingest → notify → mark seen.
type JobPoller struct {
	job         model.JobConfig
	serviceName string
	ingester    Ingester
	store       model.SeenStore
	dispatcher  Dispatcher
	logger      *slog.Logger
}

// NewJobPoller creates a poller wired with all its dependencies.
func NewJobPoller(
	job model.JobConfig,
	serviceName string,
	ingester Ingester,
	store model.SeenStore,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *JobPoller {
	return &JobPoller{
		job:         job,
		serviceName: serviceName,
		ingester:    ingester,
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger,
	}
}

// Job returns the job this poller runs.
func (p *JobPoller) Job() model.JobConfig {
	return p.job
}

// Poll runs one cycle. The first completed cycle of a job only records the
// current listings, so existing results are not reported as new; the job is
// seeded afterwards even when the market was empty. A cycle whose search
// failed does not seed the job. Notification failures are logged; only
// failing to record seen IDs is an error.
func (p *JobPoller) Poll(ctx context.Context) error {
	logger := p.logger.With("job", p.job.Key, "run_id", uuid.NewString())

	seeded, err := p.store.IsSeeded(p.job.Key)
	if err != nil {
		logger.Warn("could not check seen store, assuming job was seeded", "error", err)
		seeded = true
	}

	job := p.job
	if !seeded {
		job.Details = false
	}

	res := p.ingester.Run(ctx, job, p.seen(logger))

	if !seeded {
		if res.FetchErr != nil {
			logger.Warn("search failed, seeding deferred to the next cycle")
			return nil
		}
		if err := p.markSeen(res.Listings); err != nil {
			return err
		}
		if err := p.store.MarkSeeded(p.job.Key); err != nil {
			return fmt.Errorf("polling %s: marking seeded: %w", p.job.Key, err)
		}
		logger.Info("seeded job", "listings", len(res.Listings))
		return nil
	}

	if len(res.Listings) > 0 {
		payload := notifier.Payload{
			ServiceName: p.serviceName,
			JobKey:      p.job.Key,
			Listings:    res.Listings,
			Channels:    p.job.Channels,
		}
		if err := p.dispatcher.Dispatch(ctx, payload); err != nil {
			logger.Warn("some notifications failed", "error", err)
		}
	}

	if err := p.markSeen(res.Listings); err != nil {
		return err
	}

	logger.Info("polled job",
		"fetched", res.Stats.Fetched,
		"kept", res.Stats.Kept,
		"new", res.Stats.New,
		"enriched", res.Stats.Enriched,
	)
	return nil
}

// seen reports a failed lookup as seen.
func (p *JobPoller) seen(logger *slog.Logger) pipeline.SeenFunc {
	return func(id string) bool {
		seen, err := p.store.HasSeen(p.job.Key, id)
		if err != nil {
			logger.Warn("seen check failed, skipping listing", "id", id, "error", err)
			return true
		}
		return seen
	}
}

func (p *JobPoller) markSeen(listings []model.Listing) error {
	for _, l := range listings {
		if err := p.store.MarkSeen(p.job.Key, l.ID); err != nil {
			return fmt.Errorf("polling %s: marking seen: %w", p.job.Key, err)
		}
	}
	return nil
}
