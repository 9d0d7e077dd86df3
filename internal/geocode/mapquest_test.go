package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brownsville-complaints/internal/normalize"
)

func testAddress(t *testing.T) normalize.Address {
	t.Helper()
	addr, err := normalize.Normalize("123", "Rockaway Ave", "11212", "Brooklyn")
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func newTestClient(serverURL string) *MapQuestClient {
	return NewMapQuestClient("test-key", 100, 2*time.Second).WithBaseURL(serverURL)
}

func TestGeocodeSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		w.Write([]byte(`{
			"info": {"statuscode": 0},
			"results": [{"locations": [{
				"latLng": {"lat": 40.6624, "lng": -73.9098},
				"geocodeQuality": "ADDRESS",
				"postalCode": "11212"
			}]}]
		}`))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	if err != nil {
		t.Fatalf("Geocode() error = %v", err)
	}
	if got.Latitude != 40.6624 || got.Longitude != -73.9098 {
		t.Errorf("Geocode() = %+v", got)
	}
	if got.ParcelID != "" {
		t.Errorf("MapQuest should not supply a parcel id, got %q", got.ParcelID)
	}
}

func TestGeocodeNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"info": {"statuscode": 0}, "results": [{"locations": []}]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Geocode() error = %v, want ErrNotFound", err)
	}
	if Retryable(err) {
		t.Error("not-found must not be retryable")
	}
}

func TestGeocodeCityQualityTreatedAsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"info": {"statuscode": 0},
			"results": [{"locations": [{
				"latLng": {"lat": 40.7, "lng": -73.9},
				"geocodeQuality": "CITY"
			}]}]
		}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Geocode() error = %v, want ErrNotFound", err)
	}
}

func TestGeocodeRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	if !Retryable(err) {
		t.Errorf("rate-limited error should be retryable, got %v", err)
	}
}

func TestGeocodeAuthRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Geocode() error = %v, want AuthError", err)
	}
	if Retryable(err) {
		t.Error("rejected key must not be retryable")
	}
}

func TestGeocodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Geocode(context.Background(), testAddress(t))
	if !Retryable(err) {
		t.Errorf("5xx error should be retryable, got %v", err)
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	limiter := NewRateLimiter(50) // 20ms interval

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := limiter.WaitTurn(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("three turns at 50 rps took %v, want >= 40ms", elapsed)
	}
}

func TestRateLimiterCancelled(t *testing.T) {
	limiter := NewRateLimiter(1)
	// Burn the immediate slot.
	if err := limiter.WaitTurn(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.WaitTurn(ctx); err == nil {
		t.Error("WaitTurn() with cancelled context should fail")
	}
}
