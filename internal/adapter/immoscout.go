package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/mmcloughlin/geohash"

	"github.com/amishk599/listingwatch/internal/contact"
	"github.com/amishk599/listingwatch/internal/filter"
	"github.com/amishk599/listingwatch/internal/model"
)

const (
	ImmoScoutName = "immoscout"

	immoscoutAPIBaseURL = "https://api.mobile.immobilienscout24.de"
	immoscoutWebBaseURL = "https://www.immobilienscout24.de"

	// The mobile API rejects requests without the app's client identity.
	immoscoutUserAgent = "ImmoScout_27.12_26.2_._"

	immoscoutExposeType   = "EXPOSE_RESULT"
	immoscoutTopAttrsType = "TOP_ATTRIBUTES"
	immoscoutMapType      = "MAP"
	immoscoutRoomsLabel   = "Zimmer"

	geohashPrecision = 7
)

// Ensure ImmoScoutAdapter implements model.Provider.
var _ model.Provider = (*ImmoScoutAdapter)(nil)

// SuburbResolver looks up the neighbourhood of a coordinate. Implementations
// return nil on any failure.
type SuburbResolver interface {
	Suburb(ctx context.Context, lat, lon float64) *string
}

// immoscoutSearchRequest is the POST body the search endpoint expects.
type immoscoutSearchRequest struct {
	SupportedResultListTypes []string       `json:"supportedResultListTypes"`
	UserData                 map[string]any `json:"userData"`
}

type immoscoutSearchResponse struct {
	ResultListItems []immoscoutResultItem `json:"resultListItems"`
}

type immoscoutResultItem struct {
	Type string          `json:"type"`
	Item json.RawMessage `json:"item"`
}

// immoscoutExpose is a single search hit.
type immoscoutExpose struct {
	ID           flexString           `json:"id"`
	Title        string               `json:"title"`
	Attributes   []immoscoutAttribute `json:"attributes"` // [price, size, ...]
	Address      *immoscoutAddress    `json:"address"`
	TitlePicture *immoscoutPicture    `json:"titlePicture"`
}

type immoscoutAttribute struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type immoscoutAddress struct {
	Line string `json:"line"`
}

type immoscoutPicture struct {
	Preview string `json:"preview"`
}

// immoscoutDetailResponse keeps sections and contact undecoded so each
// extraction fails on its own.
type immoscoutDetailResponse struct {
	Sections []json.RawMessage `json:"sections"`
	Contact  json.RawMessage   `json:"contact"`
}

type immoscoutSectionHeader struct {
	Type string `json:"type"`
}

type immoscoutTopAttributes struct {
	Attributes []struct {
		Label string `json:"label"`
		Text  string `json:"text"`
	} `json:"attributes"`
}

type immoscoutMapSection struct {
	Location *struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	} `json:"location"`
}

type immoscoutContact struct {
	ContactData struct {
		Agent struct {
			Name string `json:"name"`
		} `json:"agent"`
	} `json:"contactData"`
}

// ImmoScoutAdapter fetches listings from the ImmobilienScout24 mobile API.
type ImmoScoutAdapter struct {
	apiBaseURL string
	client     *http.Client
	geocoder   SuburbResolver // optional; nil skips the suburb lookup
	logger     *slog.Logger

	blacklists sync.Map // joined terms -> *filter.Blacklist
}

// NewImmoScoutAdapter creates an adapter for ImmobilienScout24. Pass a nil
// geocoder to skip suburb lookups during enrichment.
func NewImmoScoutAdapter(client *http.Client, geocoder SuburbResolver, logger *slog.Logger) *ImmoScoutAdapter {
	return &ImmoScoutAdapter{
		apiBaseURL: immoscoutAPIBaseURL,
		client:     client,
		geocoder:   geocoder,
		logger:     logger,
	}
}

// Name returns the provider name used in logs and notifications.
func (a *ImmoScoutAdapter) Name() string {
	return ImmoScoutName
}

// FetchListings runs the search behind query (an API search URL) and returns
// the expose items in response order.
func (a *ImmoScoutAdapter) FetchListings(ctx context.Context, query string) ([]model.RawListing, error) {
	body, err := json.Marshal(immoscoutSearchRequest{
		SupportedResultListTypes: []string{},
		UserData:                 map[string]any{},
	})
	if err != nil {
		return nil, fmt.Errorf("immoscout search marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, query, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("immoscout search request: %w", err)
	}
	a.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("immoscout search fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: model.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("immoscout search fetch: unexpected status %d", resp.StatusCode),
		}
	}

	var searchResp immoscoutSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("immoscout search decode: %w", err)
	}

	raw := make([]model.RawListing, 0, len(searchResp.ResultListItems))
	for _, item := range searchResp.ResultListItems {
		if item.Type != immoscoutExposeType || len(item.Item) == 0 {
			continue
		}
		raw = append(raw, model.RawListing(item.Item))
	}
	return raw, nil
}

// Normalize maps one search hit to a Listing. Missing title or address are
// replaced by placeholders; only an item without an id is rejected.
func (a *ImmoScoutAdapter) Normalize(raw model.RawListing) (model.Listing, error) {
	var e immoscoutExpose
	if err := json.Unmarshal(raw, &e); err != nil {
		return model.Listing{}, fmt.Errorf("immoscout normalize: %w", err)
	}
	if e.ID == "" {
		return model.Listing{}, fmt.Errorf("immoscout normalize: item has no id")
	}

	l := model.Listing{
		SourceID: string(e.ID),
		Provider: ImmoScoutName,
		Title:    extractText(e.Title),
		Link:     immoscoutWebBaseURL + "/expose/" + string(e.ID),
	}
	if len(e.Attributes) > 0 {
		l.Price = e.Attributes[0].Value
	}
	if len(e.Attributes) > 1 {
		l.Size = e.Attributes[1].Value
	}
	if e.Address != nil {
		l.Address = strings.TrimSpace(e.Address.Line)
	}
	if e.TitlePicture != nil {
		l.Image = e.TitlePicture.Preview
	}

	if l.Title == "" {
		l.Title = model.NoTitle
	}
	if l.Address == "" {
		l.Address = model.NoAddress
	}

	l.ID = a.ComputeID(l)
	return l, nil
}

// ComputeID hashes native id and price. A price change yields a new id, so a
// re-priced listing is reported again.
func (a *ImmoScoutAdapter) ComputeID(l model.Listing) string {
	return listingHash(l.SourceID, l.Price)
}

// Filter returns true if the listing's title passes the blacklist. Folded
// blacklists are cached per distinct term list, so a run folds its job's
// terms once.
func (a *ImmoScoutAdapter) Filter(l model.Listing, blacklist []string) bool {
	if len(blacklist) == 0 {
		return true
	}
	return a.blacklist(blacklist).Match(l)
}

func (a *ImmoScoutAdapter) blacklist(terms []string) *filter.Blacklist {
	key := strings.Join(terms, "\x00")
	if b, ok := a.blacklists.Load(key); ok {
		return b.(*filter.Blacklist)
	}
	b, _ := a.blacklists.LoadOrStore(key, filter.NewBlacklist(terms))
	return b.(*filter.Blacklist)
}

// FetchDetail loads the expose page for sourceID and extracts room count,
// suburb (via the geocoder) and contact salutation. Each extraction degrades
// to nil on its own; only a failed request returns an error.
func (a *ImmoScoutAdapter) FetchDetail(ctx context.Context, sourceID string) (*model.Enrichment, error) {
	url := fmt.Sprintf("%s/expose/%s", a.apiBaseURL, sourceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("immoscout detail request for %s: %w", sourceID, err)
	}
	a.setHeaders(req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("immoscout detail fetch for %s: %w", sourceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: model.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("immoscout detail fetch for %s: unexpected status %d", sourceID, resp.StatusCode),
		}
	}

	var detail immoscoutDetailResponse
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("immoscout detail decode for %s: %w", sourceID, err)
	}

	enrichment := &model.Enrichment{}

	var wg sync.WaitGroup
	if coords, ok := a.coordinates(detail, sourceID); ok {
		enrichment.Geohash = geohash.EncodeWithPrecision(coords.Lat, coords.Lon, geohashPrecision)
		if a.geocoder != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				enrichment.Suburb = a.geocoder.Suburb(ctx, coords.Lat, coords.Lon)
			}()
		}
	}

	enrichment.RoomCount = a.roomCount(detail, sourceID)
	enrichment.Salutation = a.salutation(detail, sourceID)

	wg.Wait()
	return enrichment, nil
}

func (a *ImmoScoutAdapter) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", immoscoutUserAgent)
	req.Header.Set("Accept", "application/json")
}

// section returns the first section of the given type, or nil.
func (a *ImmoScoutAdapter) section(detail immoscoutDetailResponse, typ string) json.RawMessage {
	for _, raw := range detail.Sections {
		var h immoscoutSectionHeader
		if err := json.Unmarshal(raw, &h); err != nil {
			continue
		}
		if h.Type == typ {
			return raw
		}
	}
	return nil
}

func (a *ImmoScoutAdapter) roomCount(detail immoscoutDetailResponse, sourceID string) *int {
	raw := a.section(detail, immoscoutTopAttrsType)
	if raw == nil {
		return nil
	}
	var top immoscoutTopAttributes
	if err := json.Unmarshal(raw, &top); err != nil {
		a.logger.Debug("malformed top attributes section", "id", sourceID, "error", err)
		return nil
	}
	for _, attr := range top.Attributes {
		if attr.Label != immoscoutRoomsLabel {
			continue
		}
		n, ok := parseLeadingInt(attr.Text)
		if !ok {
			a.logger.Debug("unparseable room count", "id", sourceID, "text", attr.Text)
			return nil
		}
		return &n
	}
	return nil
}

func (a *ImmoScoutAdapter) coordinates(detail immoscoutDetailResponse, sourceID string) (model.Coordinates, bool) {
	raw := a.section(detail, immoscoutMapType)
	if raw == nil {
		return model.Coordinates{}, false
	}
	var m immoscoutMapSection
	if err := json.Unmarshal(raw, &m); err != nil {
		a.logger.Debug("malformed map section", "id", sourceID, "error", err)
		return model.Coordinates{}, false
	}
	if m.Location == nil || m.Location.Lat == nil || m.Location.Lng == nil {
		return model.Coordinates{}, false
	}
	return model.Coordinates{Lat: *m.Location.Lat, Lon: *m.Location.Lng}, true
}

func (a *ImmoScoutAdapter) salutation(detail immoscoutDetailResponse, sourceID string) *model.Salutation {
	if len(detail.Contact) == 0 {
		return nil
	}
	var c immoscoutContact
	if err := json.Unmarshal(detail.Contact, &c); err != nil {
		a.logger.Debug("malformed contact section", "id", sourceID, "error", err)
		return nil
	}
	return contact.ParseSalutation(c.ContactData.Agent.Name)
}
