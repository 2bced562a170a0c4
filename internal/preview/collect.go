package preview

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
)

// Dispatcher delivers a payload to a job's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, p notifier.Payload) error
}

// Collector keeps every dispatched listing so it can be rendered once the
// spinner is gone. A non-nil next dispatcher also receives each payload.
type Collector struct {
	next Dispatcher

	mu       sync.Mutex
	listings map[string][]model.Listing
}

// NewCollector returns a collector forwarding to next, which may be nil.
func NewCollector(next Dispatcher) *Collector {
	return &Collector{next: next, listings: make(map[string][]model.Listing)}
}

// Dispatch records p's listings under its job key, then forwards p.
func (c *Collector) Dispatch(ctx context.Context, p notifier.Payload) error {
	c.mu.Lock()
	c.listings[p.JobKey] = append(c.listings[p.JobKey], p.Listings...)
	c.mu.Unlock()

	if c.next == nil {
		return nil
	}
	return c.next.Dispatch(ctx, p)
}

// Listings returns what was dispatched for jobKey, in dispatch order.
func (c *Collector) Listings(jobKey string) []model.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Listing(nil), c.listings[jobKey]...)
}

// LogHold is a log destination that can be paused while a spinner owns the
// terminal. Held output is written out in order on Release.
type LogHold struct {
	mu   sync.Mutex
	out  io.Writer
	buf  bytes.Buffer
	held bool
}

func NewLogHold(out io.Writer) *LogHold {
	return &LogHold{out: out}
}

func (h *LogHold) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held {
		return h.buf.Write(p)
	}
	return h.out.Write(p)
}

// Hold starts buffering writes.
func (h *LogHold) Hold() {
	h.mu.Lock()
	h.held = true
	h.mu.Unlock()
}

// Release flushes buffered writes and resumes passing them through.
func (h *LogHold) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.held = false
	_, err := h.buf.WriteTo(h.out)
	return err
}
