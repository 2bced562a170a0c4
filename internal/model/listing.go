package model

import (
	"context"
	"encoding/json"
	"time"
)

// Placeholders substituted by Normalize when a source omits a field.
const (
	NoTitle   = "No title available"
	NoAddress = "No address available"
)

// Listing is the unified representation of a real-estate offer from any source.
type Listing struct {
	ID       string // stable hash of (SourceID, Price), used as the dedup key
	SourceID string // native id on the listing source
	Provider string // provider name, e.g. "immoscout"
	Title    string
	Price    string
	Size     string
	Link     string
	Address  string
	Image    string

	Enrichment *Enrichment // nil until the enrichment pass ran
}

// Enrichment holds best-effort detail data. Every field may be absent.
type Enrichment struct {
	RoomCount  *int
	Suburb     *string
	Geohash    string
	Salutation *Salutation
}

// Gender of a classified contact person.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// Salutation classifies a contact name as a natural person.
type Salutation struct {
	Gender   Gender
	LastName string
}

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64
	Lon float64
}

// RawListing is one undecoded item from a provider's search response.
type RawListing = json.RawMessage

// ChannelConfig is one notification channel entry of a job.
type ChannelConfig struct {
	ID       string            `yaml:"id"`
	Settings map[string]string `yaml:",inline"`
}

// JobConfig describes one search job. The core treats it as read-only.
type JobConfig struct {
	Key       string
	Provider  string
	URL       string // already translated into the provider's API query
	Enabled   bool
	Details   bool // fetch detail pages and enrich new listings
	Blacklist []string
	Channels  []ChannelConfig
	Interval  time.Duration
}

// Provider is the capability set for one listing source.
type Provider interface {
	Name() string
	FetchListings(ctx context.Context, query string) ([]RawListing, error)
	Normalize(raw RawListing) (Listing, error)
	ComputeID(l Listing) string
	FetchDetail(ctx context.Context, sourceID string) (*Enrichment, error)
	Filter(l Listing, blacklist []string) bool
}

// SeenStore tracks which listing IDs have been seen per job. Every hit in
// HasSeen and every MarkSeen refreshes the entry's last-seen time, and Cleanup
// only drops entries not observed within the retention window, so a listing
// that stays online is never reported twice.
//
// Seeding is tracked separately from the seen entries: a job is seeded once
// its first run completed, whatever it found, and stays seeded through cleanup.
type SeenStore interface {
	HasSeen(jobKey, listingID string) (bool, error)
	MarkSeen(jobKey, listingID string) error
	Cleanup(olderThan time.Duration) error
	IsSeeded(jobKey string) (bool, error)
	MarkSeeded(jobKey string) error
}
