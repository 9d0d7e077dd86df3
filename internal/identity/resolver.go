package identity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/brownsville-complaints/internal/geocode"
	"github.com/brownsville-complaints/internal/normalize"
)

// ErrUnresolvableAddress means the record's address fields could not be
// normalized into a usable key. Terminal for the record.
var ErrUnresolvableAddress = errors.New("identity: unresolvable address")

// GeocodeError wraps a geocoder failure. Retryable is false for
// not-found addresses and true for rate limits and transient faults
// that survived the resolver's own retry budget.
type GeocodeError struct {
	Retryable bool
	Err       error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("identity: geocode failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// AddressFields carries the raw address columns a source supplies.
type AddressFields struct {
	HouseNumber string
	Street      string
	Zip         string
	Borough     string
}

// Resolver maps source rows to canonical building identities. The cache
// is consulted before any geocoder call and every new identity is
// written through to the durable store.
type Resolver struct {
	cache    *Cache
	store    *Store
	geocoder geocode.Geocoder

	maxAttempts int
	baseBackoff time.Duration

	debug bool
}

// NewResolver creates a resolver. store may be nil (no persistence,
// used by tests); geocoder must not be.
func NewResolver(cache *Cache, store *Store, geocoder geocode.Geocoder) *Resolver {
	return &Resolver{
		cache:       cache,
		store:       store,
		geocoder:    geocoder,
		maxAttempts: 4,
		baseBackoff: 500 * time.Millisecond,
	}
}

// WithRetry overrides the geocode retry budget.
func (r *Resolver) WithRetry(maxAttempts int, baseBackoff time.Duration) *Resolver {
	if maxAttempts > 0 {
		r.maxAttempts = maxAttempts
	}
	if baseBackoff > 0 {
		r.baseBackoff = baseBackoff
	}
	return r
}

// WithDebug enables resolution tracing.
func (r *Resolver) WithDebug(enabled bool) *Resolver {
	r.debug = enabled
	return r
}

func parcelKey(id string) string {
	return "PARCEL|" + id
}

// Resolve maps one source row to a building identity.
//
// Policy order: parcel-hint cache hit, address normalization, cache hit
// on the normalized key, then a single-flight geocoder call. New
// identities are inserted under both the normalized-address key and any
// parcel keys, and persisted.
func (r *Resolver) Resolve(ctx context.Context, fields AddressFields, parcelHint string) (*Building, error) {
	// 1. Known parcel id wins outright; no address work needed.
	if parcelHint != "" {
		if b, ok := r.cache.Lookup(parcelKey(parcelHint)); ok {
			if _, err := b.ObserveParcel(parcelHint); err != nil {
				return nil, err
			}
			r.observe(b, fields)
			return b, nil
		}
	}

	// 2. Normalize the address.
	addr, err := normalize.Normalize(fields.HouseNumber, fields.Street, fields.Zip, fields.Borough)
	if err != nil {
		return nil, ErrUnresolvableAddress
	}

	// 3. Normalized-address cache hit.
	if b, ok := r.cache.Lookup(addr.Key()); ok {
		added := b.ObserveAddress(addr)
		if parcelHint != "" {
			if _, err := b.ObserveParcel(parcelHint); err != nil {
				return nil, err
			}
			r.cache.BindKey(parcelKey(parcelHint), b.CanonicalID)
		}
		if added || parcelHint != "" {
			r.persist(b, parcelKey(parcelHint))
		}
		return b, nil
	}

	// 4. Miss: geocode exactly once per key, however many workers race.
	created := false
	b, err := r.cache.ResolveOnce(addr.Key(), func() (*Building, []string, error) {
		result, gerr := r.geocodeWithRetry(ctx, addr)
		if gerr != nil {
			return nil, nil, gerr
		}

		canonicalID := result.ParcelID
		if canonicalID == "" {
			canonicalID = parcelHint
		}
		if canonicalID == "" {
			canonicalID = "ADDR-" + addr.Hash()
		}

		nb := NewBuilding(canonicalID)
		if result.Latitude != 0 || result.Longitude != 0 {
			nb.Latitude = result.Latitude
			nb.Longitude = result.Longitude
			nb.HasCoords = true
		}
		nb.ObserveAddress(addr)
		if parcelHint != "" {
			_, _ = nb.ObserveParcel(parcelHint) // first observation, cannot conflict
		}
		created = true

		keys := []string{}
		if parcelHint != "" {
			keys = append(keys, parcelKey(parcelHint))
		}
		if result.ParcelID != "" && result.ParcelID != parcelHint {
			keys = append(keys, parcelKey(result.ParcelID))
		}
		return nb, keys, nil
	})
	if err != nil {
		return nil, err
	}

	added := b.ObserveAddress(addr)
	if parcelHint != "" {
		// A waiter may carry a different hint than the goroutine that
		// loaded the identity.
		if _, err := b.ObserveParcel(parcelHint); err != nil {
			return nil, err
		}
		r.cache.BindKey(parcelKey(parcelHint), b.CanonicalID)
	}
	if created || added {
		r.persist(b, addr.Key(), parcelKey(parcelHint))
	}
	return b, nil
}

// geocodeWithRetry retries retryable geocoder failures with exponential
// backoff and classifies the terminal outcome.
func (r *Resolver) geocodeWithRetry(ctx context.Context, addr normalize.Address) (geocode.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		result, err := r.geocoder.Geocode(ctx, addr)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, geocode.ErrNotFound) {
			return geocode.Result{}, &GeocodeError{Retryable: false, Err: err}
		}
		if !geocode.Retryable(err) {
			return geocode.Result{}, &GeocodeError{Retryable: false, Err: err}
		}

		lastErr = err
		if attempt == r.maxAttempts {
			break
		}
		backoff := r.baseBackoff << (attempt - 1)
		if r.debug {
			log.Printf("geocode retry %d/%d for %q in %v: %v",
				attempt, r.maxAttempts, addr.Display(), backoff, err)
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return geocode.Result{}, &GeocodeError{Retryable: true, Err: ctx.Err()}
		}
	}
	return geocode.Result{}, &GeocodeError{Retryable: true, Err: lastErr}
}

// observe records address fields against an identity resolved through a
// parcel hint, best effort: a malformed address on a parcel-keyed row
// must not fail the row.
func (r *Resolver) observe(b *Building, fields AddressFields) {
	addr, err := normalize.Normalize(fields.HouseNumber, fields.Street, fields.Zip, fields.Borough)
	if err != nil {
		return
	}
	if b.ObserveAddress(addr) {
		r.cache.BindKey(addr.Key(), b.CanonicalID)
		r.persist(b, addr.Key())
	}
}

func (r *Resolver) persist(b *Building, keys ...string) {
	if r.store == nil {
		return
	}
	clean := keys[:0]
	for _, k := range keys {
		if k != "" && k != parcelKey("") {
			clean = append(clean, k)
		}
	}
	if err := r.store.Save(b, clean...); err != nil {
		// Persistence failures degrade identity stability across runs
		// but never fail the record.
		log.Printf("identity: persist %s: %v", b.CanonicalID, err)
	}
}
