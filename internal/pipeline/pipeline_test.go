package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amishk599/listingwatch/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price string `json:"price"`
}

// fakeProvider serves canned raw items and per-id detail results.
type fakeProvider struct {
	items    []model.RawListing
	fetchErr error

	mu          sync.Mutex
	details     map[string]*model.Enrichment
	detailErrs  map[string]error
	detailCalls []string

	detailDelay time.Duration
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchListings(_ context.Context, _ string) ([]model.RawListing, error) {
	return f.items, f.fetchErr
}

func (f *fakeProvider) Normalize(raw model.RawListing) (model.Listing, error) {
	var it fakeItem
	if err := json.Unmarshal(raw, &it); err != nil {
		return model.Listing{}, err
	}
	if it.ID == "" {
		return model.Listing{}, errors.New("no id")
	}
	l := model.Listing{SourceID: it.ID, Title: it.Title, Price: it.Price, Provider: "fake"}
	l.ID = f.ComputeID(l)
	return l, nil
}

func (f *fakeProvider) ComputeID(l model.Listing) string {
	return l.SourceID + "|" + l.Price
}

func (f *fakeProvider) FetchDetail(_ context.Context, sourceID string) (*model.Enrichment, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if cur <= m || f.maxInFlight.CompareAndSwap(m, cur) {
			break
		}
	}
	if f.detailDelay > 0 {
		time.Sleep(f.detailDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls = append(f.detailCalls, sourceID)
	if err := f.detailErrs[sourceID]; err != nil {
		return nil, err
	}
	return f.details[sourceID], nil
}

func (f *fakeProvider) Filter(l model.Listing, blacklist []string) bool {
	for _, term := range blacklist {
		if strings.Contains(strings.ToLower(l.Title), strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func raw(t *testing.T, items ...fakeItem) []model.RawListing {
	t.Helper()
	out := make([]model.RawListing, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, b)
	}
	return out
}

func seenSet(ids ...string) SeenFunc {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(id string) bool { return set[id] }
}

func intPtr(n int) *int { return &n }

func TestRun_ReturnsOnlyUnseenInOrder(t *testing.T) {
	p := &fakeProvider{items: raw(t,
		fakeItem{ID: "a", Title: "Flat A", Price: "900"},
		fakeItem{ID: "b", Title: "Flat B", Price: "1000"},
		fakeItem{ID: "c", Title: "Flat C", Price: "1100"},
	)}
	pl := New(p, 2, discardLogger())

	res := pl.Run(context.Background(), model.JobConfig{Key: "berlin"}, seenSet("b|1000"))

	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(res.Listings))
	}
	if res.Listings[0].SourceID != "a" || res.Listings[1].SourceID != "c" {
		t.Errorf("unexpected order: %s, %s", res.Listings[0].SourceID, res.Listings[1].SourceID)
	}
	want := Stats{Fetched: 3, Normalized: 3, Kept: 3, New: 2}
	if res.Stats != want {
		t.Errorf("stats = %+v, want %+v", res.Stats, want)
	}
	if len(p.detailCalls) != 0 {
		t.Errorf("details disabled, expected no detail calls, got %v", p.detailCalls)
	}
}

func TestRun_FetchErrorYieldsEmpty(t *testing.T) {
	p := &fakeProvider{fetchErr: &model.HTTPError{StatusCode: 503, Err: errors.New("down")}}
	pl := New(p, 2, discardLogger())

	res := pl.Run(context.Background(), model.JobConfig{Key: "berlin", Details: true}, nil)

	if len(res.Listings) != 0 {
		t.Errorf("expected no listings, got %d", len(res.Listings))
	}
	if res.Stats != (Stats{}) {
		t.Errorf("expected zero stats, got %+v", res.Stats)
	}
	if !errors.Is(res.FetchErr, p.fetchErr) {
		t.Errorf("FetchErr = %v, want the provider error", res.FetchErr)
	}
}

func TestRun_FetchErrorLogLevel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", &model.HTTPError{StatusCode: 429}, "level=WARN"},
		{"server error", &model.HTTPError{StatusCode: 502}, "level=WARN"},
		{"network error", errors.New("connection reset"), "level=WARN"},
		{"bad query", fmt.Errorf("search: %w", &model.HTTPError{StatusCode: 400}), "level=ERROR"},
		{"gone", &model.HTTPError{StatusCode: 404}, "level=ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf strings.Builder
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			p := &fakeProvider{fetchErr: tt.err}

			New(p, 1, logger).Run(context.Background(), model.JobConfig{Key: "berlin"}, nil)

			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("log output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestRun_SkipsMalformedItems(t *testing.T) {
	items := raw(t, fakeItem{ID: "a", Price: "1"}, fakeItem{Title: "no id"})
	items = append(items, model.RawListing(`not json`), model.RawListing(`{"id":"d","price":"4"}`))
	p := &fakeProvider{items: items}

	res := New(p, 2, discardLogger()).Run(context.Background(), model.JobConfig{Key: "k"}, nil)

	if res.Stats.Fetched != 4 || res.Stats.Normalized != 2 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if len(res.Listings) != 2 || res.Listings[0].SourceID != "a" || res.Listings[1].SourceID != "d" {
		t.Errorf("unexpected listings: %+v", res.Listings)
	}
}

func TestRun_AppliesBlacklist(t *testing.T) {
	p := &fakeProvider{items: raw(t,
		fakeItem{ID: "a", Title: "Nice flat"},
		fakeItem{ID: "b", Title: "WG-Zimmer frei"},
	)}
	job := model.JobConfig{Key: "k", Blacklist: []string{"wg"}}

	res := New(p, 2, discardLogger()).Run(context.Background(), job, nil)

	if len(res.Listings) != 1 || res.Listings[0].SourceID != "a" {
		t.Errorf("unexpected listings: %+v", res.Listings)
	}
	if res.Stats.Kept != 1 {
		t.Errorf("Kept = %d, want 1", res.Stats.Kept)
	}
}

func TestRun_CollapsesDuplicatesWithinResponse(t *testing.T) {
	p := &fakeProvider{items: raw(t,
		fakeItem{ID: "a", Price: "900"},
		fakeItem{ID: "a", Price: "900"},
		fakeItem{ID: "a", Price: "950"},
	)}

	res := New(p, 2, discardLogger()).Run(context.Background(), model.JobConfig{Key: "k"}, nil)

	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 listings (re-priced one counts as new), got %d", len(res.Listings))
	}
	if res.Listings[0].Price != "900" || res.Listings[1].Price != "950" {
		t.Errorf("unexpected listings: %+v", res.Listings)
	}
}

func TestRun_EnrichesNewListingsOnly(t *testing.T) {
	suburb := "Kreuzberg"
	p := &fakeProvider{
		items: raw(t,
			fakeItem{ID: "a", Price: "1"},
			fakeItem{ID: "b", Price: "2"},
			fakeItem{ID: "c", Price: "3"},
		),
		details: map[string]*model.Enrichment{
			"a": {RoomCount: intPtr(2), Suburb: &suburb, Geohash: "u33dc0c"},
			"c": {RoomCount: intPtr(3)},
		},
		detailErrs: map[string]error{"c": errors.New("boom")},
	}
	job := model.JobConfig{Key: "k", Details: true}

	res := New(p, 2, discardLogger()).Run(context.Background(), job, seenSet("b|2"))

	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(res.Listings))
	}
	if len(p.detailCalls) != 2 {
		t.Errorf("expected 2 detail calls, got %v", p.detailCalls)
	}
	for _, id := range p.detailCalls {
		if id == "b" {
			t.Error("seen listing should not be enriched")
		}
	}

	a := res.Listings[0]
	if a.Enrichment == nil || a.Enrichment.RoomCount == nil || *a.Enrichment.RoomCount != 2 {
		t.Errorf("listing a not enriched: %+v", a.Enrichment)
	}
	if a.Enrichment.Suburb == nil || *a.Enrichment.Suburb != "Kreuzberg" {
		t.Errorf("suburb not merged: %+v", a.Enrichment)
	}

	c := res.Listings[1]
	if c.SourceID != "c" {
		t.Fatalf("order changed: %s", c.SourceID)
	}
	if c.Enrichment != nil {
		t.Errorf("failed enrichment should leave listing unenriched, got %+v", c.Enrichment)
	}
	if res.Stats.Enriched != 1 {
		t.Errorf("Enriched = %d, want 1", res.Stats.Enriched)
	}
}

func TestRun_BoundsDetailConcurrency(t *testing.T) {
	var items []fakeItem
	for i := range 10 {
		items = append(items, fakeItem{ID: fmt.Sprintf("id-%d", i), Price: "1"})
	}
	p := &fakeProvider{items: raw(t, items...), detailDelay: 20 * time.Millisecond}

	res := New(p, 3, discardLogger()).Run(context.Background(), model.JobConfig{Key: "k", Details: true}, nil)

	if len(res.Listings) != 10 {
		t.Fatalf("expected 10 listings, got %d", len(res.Listings))
	}
	if got := p.maxInFlight.Load(); got > 3 {
		t.Errorf("max concurrent detail fetches = %d, want <= 3", got)
	}
	for i, l := range res.Listings {
		if want := fmt.Sprintf("id-%d", i); l.SourceID != want {
			t.Errorf("listing %d = %s, want %s", i, l.SourceID, want)
		}
	}
}

func TestMergeEnrichment(t *testing.T) {
	suburb := "Mitte"
	dst := &model.Enrichment{RoomCount: intPtr(1), Geohash: "old"}
	src := &model.Enrichment{Suburb: &suburb, Geohash: "new"}

	got := mergeEnrichment(dst, src)

	if got.RoomCount == nil || *got.RoomCount != 1 {
		t.Error("existing room count should survive a nil overlay")
	}
	if got.Suburb == nil || *got.Suburb != "Mitte" {
		t.Error("suburb should be taken from src")
	}
	if got.Geohash != "new" {
		t.Errorf("Geohash = %q, want new", got.Geohash)
	}
	if dst.Geohash != "old" {
		t.Error("dst should not be mutated")
	}
}
