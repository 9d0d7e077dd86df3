package geocode

import (
	"context"
	"errors"
	"fmt"

	"github.com/brownsville-complaints/internal/normalize"
)

// Result holds the standardized identifiers returned for an address.
// ParcelID is empty when the upstream service cannot supply one; the
// caller then falls back to an address-hash identity.
type Result struct {
	ParcelID  string
	Latitude  float64
	Longitude float64
}

// Geocoder resolves a normalized address to coordinates and, when the
// service knows it, a parcel/building identifier.
type Geocoder interface {
	Geocode(ctx context.Context, addr normalize.Address) (Result, error)
}

// ErrNotFound means the service has no record of the address. Terminal
// for the record; do not retry.
var ErrNotFound = errors.New("geocode: address not found")

// RateLimitError means the upstream quota was hit. Retryable.
type RateLimitError struct {
	Detail string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("geocode: rate limited: %s", e.Detail)
}

// AuthError means the service rejected the API key. Terminal for the
// whole run, not just the record: no retry can succeed until the
// configuration changes.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("geocode: authentication rejected: %s", e.Detail)
}

// TransientError covers timeouts and 5xx responses. Retryable.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("geocode: transient failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the geocode call.
func Retryable(err error) bool {
	var rl *RateLimitError
	var tr *TransientError
	return errors.As(err, &rl) || errors.As(err, &tr)
}
