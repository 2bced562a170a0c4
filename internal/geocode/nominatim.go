// Package geocode resolves coordinates to a neighbourhood name through a
// Nominatim-compatible reverse-geocoding service.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/amishk599/listingwatch/internal/model"
	"github.com/amishk599/listingwatch/internal/ratelimit"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "listingwatch (+https://github.com/amishk599/listingwatch)"
)

var (
	// ErrInvalidCoordinates is returned without a network call for NaN or infinite input.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrGeocodeResponse is returned when the service answers with an error field.
	ErrGeocodeResponse = errors.New("geocoder returned an error")
)

// Address is the structured address of a reverse-geocode result.
type Address struct {
	HouseNumber   string
	Road          string
	Neighbourhood string
	Suburb        string
	Borough       string
	City          string // city, town or village, whichever is present
	Postcode      string
	Country       string
	CountryCode   string
	DisplayName   string
}

type nominatimAddress struct {
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	Borough       string `json:"borough"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	Postcode      string `json:"postcode"`
	Country       string `json:"country"`
	CountryCode   string `json:"country_code"`
}

type nominatimResponse struct {
	Address     *nominatimAddress `json:"address"`
	DisplayName string            `json:"display_name"`
	Error       string            `json:"error"`
}

// Client reverse-geocodes coordinates. Every lookup goes through the shared
// limiter to honour the upstream usage policy.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	lookup    func(context.Context, model.Coordinates) (*Address, error)
	logger    *slog.Logger
}

// NewClient creates a geocoding client. Empty baseURL or userAgent fall back to
// the public Nominatim instance and the default identifying agent.
func NewClient(baseURL, userAgent string, client *http.Client, limiter *ratelimit.Limiter, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		client:    client,
		logger:    logger,
	}
	c.lookup = ratelimit.Wrap(limiter, c.fetch)
	return c
}

// ReverseGeocode resolves lat/lon to an address. It never retries; the next
// poll cycle is the retry.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64) (*Address, error) {
	if !finite(lat) || !finite(lon) {
		return nil, fmt.Errorf("reverse geocode %v,%v: %w", lat, lon, ErrInvalidCoordinates)
	}
	return c.lookup(ctx, model.Coordinates{Lat: lat, Lon: lon})
}

// Suburb returns only the suburb of the reverse-geocode result, or nil when
// the lookup fails or the result has none. Failures are logged, not returned.
func (c *Client) Suburb(ctx context.Context, lat, lon float64) *string {
	addr, err := c.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		c.logger.Warn("reverse geocode failed", "lat", lat, "lon", lon, "error", err)
		return nil
	}
	if addr.Suburb == "" {
		return nil
	}
	suburb := addr.Suburb
	return &suburb
}

func (c *Client) fetch(ctx context.Context, p model.Coordinates) (*Address, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(p.Lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(p.Lon, 'f', -1, 64))
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: model.ParseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("reverse geocode fetch: unexpected status %d", resp.StatusCode),
		}
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("reverse geocode decode: %w", err)
	}
	if body.Error != "" {
		return nil, fmt.Errorf("reverse geocode: %w: %s", ErrGeocodeResponse, body.Error)
	}
	if body.Address == nil {
		return nil, fmt.Errorf("reverse geocode decode: response has no address")
	}

	a := body.Address
	city := a.City
	if city == "" {
		city = a.Town
	}
	if city == "" {
		city = a.Village
	}

	return &Address{
		HouseNumber:   a.HouseNumber,
		Road:          a.Road,
		Neighbourhood: a.Neighbourhood,
		Suburb:        a.Suburb,
		Borough:       a.Borough,
		City:          city,
		Postcode:      a.Postcode,
		Country:       a.Country,
		CountryCode:   a.CountryCode,
		DisplayName:   body.DisplayName,
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
