package preview

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/notifier"
)

func TestRenderListings(t *testing.T) {
	rooms := 2
	suburb := "Neukölln"
	listings := []model.Listing{
		{
			Title:   "Altbau mit Balkon",
			Price:   "980 €",
			Size:    "54 m²",
			Address: "Weserstraße 1, Berlin",
			Link:    "https://www.immobilienscout24.de/expose/1",
			Enrichment: &model.Enrichment{
				RoomCount: &rooms,
				Suburb:    &suburb,
			},
		},
		{Title: "Neubau", Address: model.NoAddress, Link: "https://www.immobilienscout24.de/expose/2"},
	}

	var buf bytes.Buffer
	RenderListings(&buf, "berlin", listings)
	out := buf.String()

	for _, want := range []string{"berlin: 2 listing(s)", "Altbau mit Balkon", "980 € · 54 m² · Weserstraße 1, Berlin", "2 rooms · Neukölln", "expose/2", model.NoAddress} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderListings_Empty(t *testing.T) {
	var buf bytes.Buffer
	RenderListings(&buf, "berlin", nil)
	if !strings.Contains(buf.String(), "nothing matched") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestRenderJobs(t *testing.T) {
	var buf bytes.Buffer
	RenderJobs(&buf, []JobRow{
		{Key: "berlin", Provider: "immoscout", Interval: 5 * time.Minute, Details: true, Channels: []string{"slack", "log"}, Enabled: true},
		{Key: "hamburg", Provider: "immoscout", Interval: 10 * time.Minute},
	})
	out := buf.String()

	for _, want := range []string{"berlin", "slack,log", "5m0s", "disabled", "Total: 2 jobs (1 enabled, 1 disabled)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLoaderModel_DoneQuits(t *testing.T) {
	m := newLoaderModel(context.Background(), "Polling berlin", func(ctx context.Context) (int, error) { return 0, nil })

	next, cmd := m.Update(doneMsg[int]{value: 42})
	final := next.(loaderModel[int])

	if !final.done || final.result != 42 {
		t.Errorf("model = %+v", final)
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if final.View() != "" {
		t.Error("finished loader should render nothing")
	}
}

func TestLoaderModel_CtrlCCancels(t *testing.T) {
	m := newLoaderModel(context.Background(), "Polling", func(ctx context.Context) (int, error) { return 0, nil })

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	final := next.(loaderModel[int])

	if !errors.Is(final.err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", final.err)
	}
}

func TestLoaderModel_ViewShowsLabel(t *testing.T) {
	m := newLoaderModel(context.Background(), "Polling berlin", func(ctx context.Context) (int, error) { return 0, nil })
	next, _ := m.Update(spinner.TickMsg{})

	if !strings.Contains(next.View(), "Polling berlin...") {
		t.Errorf("view = %q", next.View())
	}
}

type recordingDispatcher struct {
	payloads []notifier.Payload
	err      error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, p notifier.Payload) error {
	d.payloads = append(d.payloads, p)
	return d.err
}

func TestCollector_KeepsListingsPerJob(t *testing.T) {
	c := NewCollector(nil)
	ctx := context.Background()

	c.Dispatch(ctx, notifier.Payload{JobKey: "berlin", Listings: []model.Listing{{ID: "1"}, {ID: "2"}}})
	c.Dispatch(ctx, notifier.Payload{JobKey: "hamburg", Listings: []model.Listing{{ID: "3"}}})

	got := c.Listings("berlin")
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Errorf("berlin listings = %+v", got)
	}
	if len(c.Listings("munich")) != 0 {
		t.Error("unknown job should have no listings")
	}
}

func TestCollector_ForwardsToNext(t *testing.T) {
	next := &recordingDispatcher{err: errors.New("slack down")}
	c := NewCollector(next)

	err := c.Dispatch(context.Background(), notifier.Payload{JobKey: "berlin", Listings: []model.Listing{{ID: "1"}}})
	if !errors.Is(err, next.err) {
		t.Errorf("Dispatch() = %v, want next's error", err)
	}
	if len(next.payloads) != 1 {
		t.Errorf("next got %d payloads, want 1", len(next.payloads))
	}
	if len(c.Listings("berlin")) != 1 {
		t.Error("listings should be collected even when forwarding fails")
	}
}

func TestLogHold_BuffersUntilRelease(t *testing.T) {
	var out bytes.Buffer
	h := NewLogHold(&out)

	h.Write([]byte("before\n"))
	h.Hold()
	h.Write([]byte("during\n"))
	if out.String() != "before\n" {
		t.Fatalf("held output leaked: %q", out.String())
	}

	if err := h.Release(); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	h.Write([]byte("after\n"))
	if out.String() != "before\nduring\nafter\n" {
		t.Errorf("output = %q", out.String())
	}
}
