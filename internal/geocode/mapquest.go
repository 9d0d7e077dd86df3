package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/brownsville-complaints/internal/normalize"
)

const defaultBaseURL = "https://www.mapquestapi.com/geocoding/v1/address"

// MapQuestClient geocodes addresses against the MapQuest geocoding API.
// MapQuest returns coordinates only, so Result.ParcelID is always empty
// and identities resolved through it fall back to address hashes.
type MapQuestClient struct {
	baseURL string
	key     string
	state   string
	client  *http.Client
	limiter *RateLimiter
}

// NewMapQuestClient creates a geocoder client with a request timeout and
// client-side rate limiting.
func NewMapQuestClient(key string, requestsPerSecond int, timeout time.Duration) *MapQuestClient {
	return &MapQuestClient{
		baseURL: defaultBaseURL,
		key:     key,
		state:   "NY",
		client:  &http.Client{Timeout: timeout},
		limiter: NewRateLimiter(requestsPerSecond),
	}
}

// WithBaseURL overrides the API endpoint. Used by tests.
func (c *MapQuestClient) WithBaseURL(base string) *MapQuestClient {
	c.baseURL = base
	return c
}

type mapquestResponse struct {
	Info struct {
		StatusCode int      `json:"statuscode"`
		Messages   []string `json:"messages"`
	} `json:"info"`
	Results []struct {
		Locations []struct {
			LatLng struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"latLng"`
			GeocodeQuality string `json:"geocodeQuality"`
			PostalCode     string `json:"postalCode"`
		} `json:"locations"`
	} `json:"results"`
}

// Geocode implements Geocoder.
func (c *MapQuestClient) Geocode(ctx context.Context, addr normalize.Address) (Result, error) {
	if err := c.limiter.WaitTurn(ctx); err != nil {
		return Result{}, &TransientError{Err: err}
	}

	location := strings.Join([]string{
		addr.HouseNumber + " " + addr.Street,
		addr.Borough,
		c.state,
		addr.Zip,
	}, ",")

	q := url.Values{}
	q.Set("key", c.key)
	q.Set("location", location)
	q.Set("maxResults", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("geocode: build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Timeouts and connection errors are worth retrying.
		return Result{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &RateLimitError{Detail: resp.Status}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// A bad key looks permanent; burning the retry budget on it
		// would reject every record one slow backoff at a time.
		return Result{}, &AuthError{Detail: resp.Status}
	case resp.StatusCode >= 500:
		return Result{}, &TransientError{Err: errors.New(resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("geocode: unexpected status %s", resp.Status)
	}

	var body mapquestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, &TransientError{Err: err}
	}

	if len(body.Results) == 0 || len(body.Results[0].Locations) == 0 {
		return Result{}, ErrNotFound
	}

	loc := body.Results[0].Locations[0]
	// City- or state-level fallbacks are useless for building identity.
	if loc.GeocodeQuality == "CITY" || loc.GeocodeQuality == "STATE" || loc.GeocodeQuality == "COUNTY" {
		return Result{}, ErrNotFound
	}

	return Result{
		Latitude:  loc.LatLng.Lat,
		Longitude: loc.LatLng.Lng,
	}, nil
}
