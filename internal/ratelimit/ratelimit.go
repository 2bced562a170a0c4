package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/amishk599/listingwatch/internal/model"
)

// Limiter admits at most n operation starts within any window of the given
// length. Excess callers are queued in arrival order instead of rejected.
// A Limiter is safe for concurrent use and meant to be shared process-wide.
type Limiter struct {
	mu     sync.Mutex
	n      int
	window time.Duration
	starts []time.Time // reserved start times of the last n admissions, oldest first
}

// NewLimiter creates a limiter admitting n starts per window. n < 1 is treated as 1.
func NewLimiter(n int, window time.Duration) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{
		n:      n,
		window: window,
		starts: make([]time.Time, 0, n),
	}
}

// reserve books the next free start slot. Slots are handed out under the lock,
// so start times are non-decreasing in arrival order.
func (l *Limiter) reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	at := time.Now()
	if len(l.starts) == l.n {
		if earliest := l.starts[0].Add(l.window); earliest.After(at) {
			at = earliest
		}
		l.starts = l.starts[1:]
	}
	if k := len(l.starts); k > 0 && l.starts[k-1].After(at) {
		at = l.starts[k-1]
	}
	l.starts = append(l.starts, at)
	return at
}

// Wait blocks until the caller's slot arrives. It only fails when ctx ends
// while the caller is still queued; the reserved slot is not given back.
func (l *Limiter) Wait(ctx context.Context) error {
	delay := time.Until(l.reserve())
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Wrap returns op throttled by l. Errors from op propagate unchanged.
func Wrap[In, Out any](l *Limiter, op func(context.Context, In) (Out, error)) func(context.Context, In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		if err := l.Wait(ctx); err != nil {
			var zero Out
			return zero, err
		}
		return op(ctx, in)
	}
}

// RateLimitedProvider is a decorator that throttles search requests before
// delegating to the wrapped Provider. Jobs hitting the same source should
// share one limiter instance.
type RateLimitedProvider struct {
	model.Provider
	limiter *Limiter
}

// NewRateLimitedProvider wraps a Provider's FetchListings with limiter.
func NewRateLimitedProvider(inner model.Provider, limiter *Limiter) *RateLimitedProvider {
	return &RateLimitedProvider{
		Provider: inner,
		limiter:  limiter,
	}
}

// FetchListings waits for the limiter, then delegates to the wrapped provider.
func (p *RateLimitedProvider) FetchListings(ctx context.Context, query string) ([]model.RawListing, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.Provider.FetchListings(ctx, query)
}
