package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/amishk599/listingwatch/internal/model"
)

func newTestSlack(srv *httptest.Server) *SlackChannel {
	s := NewSlackChannel(srv.URL, srv.Client(), discardLogger())
	s.spacing = 0
	return s
}

func slackPayloadFor(listings ...model.Listing) Payload {
	return Payload{
		ServiceName: "listingwatch",
		JobKey:      "berlin",
		Listings:    listings,
		Channels:    []model.ChannelConfig{{ID: SlackChannelID}},
	}
}

func TestSlackChannel_EmptyListings(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSlack(srv)

	if err := s.Send(context.Background(), slackPayloadFor()); err != nil {
		t.Errorf("Send(empty) = %v, want nil", err)
	}
	if c := calls.Load(); c != 0 {
		t.Errorf("expected 0 HTTP calls, got %d", c)
	}
}

func TestSlackChannel_SingleListing(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSlack(srv)
	if err := s.Send(context.Background(), slackPayloadFor(sampleListing("42", "Altbau mit Balkon"))); err != nil {
		t.Fatalf("Send() = %v, want nil", err)
	}

	var payload slackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	if got := payload.Blocks[0].Text.Text; got != "🏠 Altbau mit Balkon" {
		t.Errorf("header text = %q", got)
	}
	if got := payload.Blocks[1].Fields[0].Text; got != "*Price:*\n980 €" {
		t.Errorf("price field = %q", got)
	}
	if payload.Blocks[1].Accessory == nil || payload.Blocks[1].Accessory.ImageURL != "https://pictures.example.com/42.jpg" {
		t.Errorf("expected image accessory, got %+v", payload.Blocks[1].Accessory)
	}

	details := payload.Blocks[2].Text.Text
	for _, want := range []string{"*Rooms:* 3", "*Suburb:* Kreuzberg", "*Contact:* Frau Musterfrau"} {
		if !strings.Contains(details, want) {
			t.Errorf("details %q missing %q", details, want)
		}
	}

	if got := payload.Blocks[3].Elements[0].URL; got != "https://www.immobilienscout24.de/expose/42" {
		t.Errorf("action URL = %q", got)
	}
}

func TestSlackChannel_UnenrichedListingHasNoDetailsBlock(t *testing.T) {
	payload := buildSlackPayload("", plainListing("1", "Neubau"))

	// header, overview, actions, divider
	if len(payload.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(payload.Blocks))
	}
	if payload.Blocks[1].Accessory != nil {
		t.Error("listing without image should have no accessory")
	}
	if payload.Blocks[2].Type != "actions" {
		t.Errorf("block 2 type = %q, want actions", payload.Blocks[2].Type)
	}
}

func TestSlackChannel_JobWebhookOverridesDefault(t *testing.T) {
	var defaultCalls, jobCalls atomic.Int32
	defaultSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defaultCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer defaultSrv.Close()
	jobSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jobCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer jobSrv.Close()

	s := newTestSlack(defaultSrv)
	p := slackPayloadFor(plainListing("1", "Flat"))
	p.Channels = []model.ChannelConfig{{ID: SlackChannelID, Settings: map[string]string{"webhook_url": jobSrv.URL}}}

	if err := s.Send(context.Background(), p); err != nil {
		t.Fatalf("Send() = %v", err)
	}
	if jobCalls.Load() != 1 || defaultCalls.Load() != 0 {
		t.Errorf("job webhook calls = %d, default calls = %d", jobCalls.Load(), defaultCalls.Load())
	}
}

func TestSlackChannel_NoWebhook(t *testing.T) {
	s := NewSlackChannel("", http.DefaultClient, discardLogger())
	if err := s.Send(context.Background(), slackPayloadFor(plainListing("1", "Flat"))); err == nil {
		t.Error("expected error without any webhook")
	}
}

func TestSlackChannel_MultipleListings(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSlack(srv)
	p := slackPayloadFor(plainListing("1", "A"), plainListing("2", "B"), plainListing("3", "C"))

	if err := s.Send(context.Background(), p); err != nil {
		t.Fatalf("Send() = %v, want nil", err)
	}
	if c := calls.Load(); c != 3 {
		t.Errorf("expected 3 HTTP calls, got %d", c)
	}
}

func TestSlackChannel_AllFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newTestSlack(srv)
	err := s.Send(context.Background(), slackPayloadFor(plainListing("1", "A"), plainListing("2", "B")))
	if err == nil {
		t.Error("expected error when all messages fail, got nil")
	}
}

func TestSlackChannel_PartialFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSlack(srv)
	if err := s.Send(context.Background(), slackPayloadFor(plainListing("1", "Fails"), plainListing("2", "Succeeds"))); err != nil {
		t.Errorf("expected nil (partial success), got %v", err)
	}
}

func TestSlackChannel_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSlack(srv)
	if err := s.Send(context.Background(), slackPayloadFor(plainListing("1", "Rate Limited"))); err != nil {
		t.Fatalf("expected nil after retry, got %v", err)
	}
	if c := calls.Load(); c != 2 {
		t.Errorf("expected 2 HTTP calls (initial + retry), got %d", c)
	}
}

func TestSlackChannel_CancelledDuringSpacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSlackChannel(srv.URL, srv.Client(), discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Send(ctx, slackPayloadFor(plainListing("1", "A"), plainListing("2", "B")))
	if err == nil {
		t.Error("expected context error")
	}
}
