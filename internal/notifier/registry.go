// Package notifier delivers new listings to the notification channels a job
// is configured with.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/amishk599/listingwatch/internal/model"
)

// ErrNoChannels is returned by Build when no channel was registered.
var ErrNoChannels = errors.New("no notification channels registered")

// Payload is one batch of new listings for one job.
type Payload struct {
	ServiceName string
	JobKey      string
	Listings    []model.Listing
	Channels    []model.ChannelConfig
}

// Settings returns the job's settings for channel id, or nil if the job does
// not use that channel.
func (p Payload) Settings(id string) map[string]string {
	for _, c := range p.Channels {
		if c.ID == id {
			return c.Settings
		}
	}
	return nil
}

// Channel is one notification adapter.
type Channel interface {
	ID() string
	Send(ctx context.Context, p Payload) error
}

// Builder collects channels before the registry is frozen.
type Builder struct {
	channels []Channel
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds channels to the builder.
func (b *Builder) Register(channels ...Channel) *Builder {
	b.channels = append(b.channels, channels...)
	return b
}

// Build freezes the registered channels into a Registry.
func (b *Builder) Build(logger *slog.Logger) (*Registry, error) {
	if len(b.channels) == 0 {
		return nil, ErrNoChannels
	}
	byID := make(map[string]Channel, len(b.channels))
	ids := make([]string, 0, len(b.channels))
	for _, ch := range b.channels {
		id := ch.ID()
		if id == "" {
			return nil, fmt.Errorf("register channel %T: empty id", ch)
		}
		if _, dup := byID[id]; dup {
			return nil, fmt.Errorf("register channel %q: duplicate id", id)
		}
		byID[id] = ch
		ids = append(ids, id)
	}
	return &Registry{channels: byID, ids: ids, logger: logger}, nil
}

// Registry maps channel IDs to adapters. It is read-only after Build and safe
// for concurrent use.
type Registry struct {
	channels map[string]Channel
	ids      []string // registration order
	logger   *slog.Logger
}

// IDs returns the registered channel IDs in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Has reports whether a channel with id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.channels[id]
	return ok
}

// Dispatch sends the payload to every configured channel concurrently.
// Unknown channel IDs are skipped. A failing channel does not stop the others;
// the returned error joins all failures and is meant for logging.
func (r *Registry) Dispatch(ctx context.Context, p Payload) error {
	if len(p.Listings) == 0 {
		return nil
	}

	var g errgroup.Group
	errs := make([]error, len(p.Channels))
	for i, cfg := range p.Channels {
		ch, ok := r.channels[cfg.ID]
		if !ok {
			r.logger.Debug("skipping unknown notification channel", "job", p.JobKey, "channel", cfg.ID)
			continue
		}
		g.Go(func() error {
			if err := ch.Send(ctx, p); err != nil {
				r.logger.Error("notification channel failed", "job", p.JobKey, "channel", cfg.ID, "error", err)
				errs[i] = fmt.Errorf("channel %s: %w", cfg.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}
