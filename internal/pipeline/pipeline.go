// Package pipeline turns one provider search into the ordered set of listings
// a job has not seen before: fetch → normalize → blacklist → dedup → enrich.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/listingwatch/internal/model"
)

const defaultDetailConcurrency = 4

// SeenFunc reports whether a listing id was already seen by the job.
type SeenFunc func(listingID string) bool

// Stats summarizes one run.
type Stats struct {
	Fetched    int // raw items returned by the provider
	Normalized int // items that normalized cleanly
	Kept       int // items that passed the blacklist
	New        int // items not seen before
	Enriched   int // new items whose detail fetch succeeded
}

// Result is the outcome of one run. Listings keep source response order.
// FetchErr is set when the search itself failed and the run is empty.
type Result struct {
	Listings []model.Listing
	Stats    Stats
	FetchErr error
}

// Pipeline runs one provider's ingestion for a job. It holds no per-job state
// and is safe to share between jobs using the same provider.
type Pipeline struct {
	provider          model.Provider
	detailConcurrency int
	logger            *slog.Logger
}

// New creates a pipeline for provider. detailConcurrency bounds how many
// detail fetches run at once; values < 1 fall back to a small default.
func New(provider model.Provider, detailConcurrency int, logger *slog.Logger) *Pipeline {
	if detailConcurrency < 1 {
		detailConcurrency = defaultDetailConcurrency
	}
	return &Pipeline{
		provider:          provider,
		detailConcurrency: detailConcurrency,
		logger:            logger,
	}
}

// Provider returns the provider this pipeline fetches from.
func (p *Pipeline) Provider() model.Provider {
	return p.provider
}

// Run executes one ingestion cycle for job. It never fails: a failed fetch
// yields an empty result, a bad item is skipped, a failed enrichment leaves
// the listing unenriched.
func (p *Pipeline) Run(ctx context.Context, job model.JobConfig, seen SeenFunc) Result {
	var res Result
	logger := p.logger.With("job", job.Key, "provider", p.provider.Name())

	raw, err := p.provider.FetchListings(ctx, job.URL)
	if err != nil {
		res.FetchErr = err
		var httpErr *model.HTTPError
		if errors.As(err, &httpErr) && !httpErr.Transient() {
			logger.Error("search rejected, check the job url", "status", httpErr.StatusCode, "error", err)
		} else {
			logger.Warn("fetching listings failed, treating cycle as empty", "error", err)
		}
		return res
	}
	res.Stats.Fetched = len(raw)

	inResponse := make(map[string]bool, len(raw))
	var fresh []model.Listing
	for i, item := range raw {
		l, err := p.provider.Normalize(item)
		if err != nil {
			logger.Warn("skipping malformed listing", "index", i, "error", err)
			continue
		}
		res.Stats.Normalized++

		if !p.provider.Filter(l, job.Blacklist) {
			logger.Debug("listing blacklisted", "id", l.ID, "title", l.Title)
			continue
		}
		res.Stats.Kept++

		if inResponse[l.ID] || (seen != nil && seen(l.ID)) {
			continue
		}
		inResponse[l.ID] = true
		fresh = append(fresh, l)
	}
	res.Stats.New = len(fresh)

	if job.Details && len(fresh) > 0 {
		res.Stats.Enriched = p.enrich(ctx, logger, fresh)
	}

	res.Listings = fresh
	logger.Info("pipeline run complete",
		"fetched", res.Stats.Fetched,
		"normalized", res.Stats.Normalized,
		"kept", res.Stats.Kept,
		"new", res.Stats.New,
		"enriched", res.Stats.Enriched,
	)
	return res
}

// enrich fetches details for listings in place and returns how many succeeded.
func (p *Pipeline) enrich(ctx context.Context, logger *slog.Logger, listings []model.Listing) int {
	var enriched atomic.Int32

	var g errgroup.Group
	g.SetLimit(p.detailConcurrency)
	for i := range listings {
		g.Go(func() error {
			l := &listings[i]
			detail, err := p.provider.FetchDetail(ctx, l.SourceID)
			if err != nil {
				logger.Warn("enrichment failed, keeping listing without details", "id", l.ID, "source_id", l.SourceID, "error", err)
				return nil
			}
			if detail == nil {
				return nil
			}
			l.Enrichment = mergeEnrichment(l.Enrichment, detail)
			enriched.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return int(enriched.Load())
}

// mergeEnrichment overlays the non-nil fields of src onto a copy of dst.
func mergeEnrichment(dst, src *model.Enrichment) *model.Enrichment {
	if dst == nil {
		out := *src
		return &out
	}
	out := *dst
	if src.RoomCount != nil {
		out.RoomCount = src.RoomCount
	}
	if src.Suburb != nil {
		out.Suburb = src.Suburb
	}
	if src.Geohash != "" {
		out.Geohash = src.Geohash
	}
	if src.Salutation != nil {
		out.Salutation = src.Salutation
	}
	return &out
}
