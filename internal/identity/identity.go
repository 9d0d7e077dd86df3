package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/brownsville-complaints/internal/normalize"
)

// ErrParcelConflict means one normalized address carries two different
// parcel ids from the same id namespace. The row is surfaced for review
// instead of being merged on a guess.
var ErrParcelConflict = errors.New("identity: conflicting parcel ids for one address")

// Building is the canonical identity of one physical building across all
// complaint feeds. Immutable once created except for the set of observed
// addresses, which accumulates as sources report variants.
type Building struct {
	CanonicalID string
	Latitude    float64
	Longitude   float64
	HasCoords   bool

	mu        sync.Mutex
	addresses []normalize.Address
	addrSeen  map[string]bool
	parcels   map[string]string // id namespace -> parcel id
}

// NewBuilding creates an identity for the given canonical id.
func NewBuilding(canonicalID string) *Building {
	return &Building{
		CanonicalID: canonicalID,
		addrSeen:    make(map[string]bool),
	}
}

// ObserveAddress records an address variant seen for this building and
// reports whether it was new.
func (b *Building) ObserveAddress(addr normalize.Address) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := addr.Key()
	if b.addrSeen[key] {
		return false
	}
	b.addrSeen[key] = true
	b.addresses = append(b.addresses, addr)
	return true
}

// ObserveParcel records a parcel hint seen for this building and reports
// whether it was new. Hints are namespaced ("BBL:3037156", "BIN:3330400")
// because the feeds use unrelated id systems; a second, different id in
// an already-observed namespace is a conflict.
func (b *Building) ObserveParcel(hint string) (bool, error) {
	ns, id := splitParcelHint(hint)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.parcels == nil {
		b.parcels = make(map[string]string)
	}
	if existing, ok := b.parcels[ns]; ok {
		if existing != id {
			return false, fmt.Errorf("%w: %s %q vs %q", ErrParcelConflict, ns, existing, id)
		}
		return false, nil
	}
	b.parcels[ns] = id
	return true, nil
}

func splitParcelHint(hint string) (namespace, id string) {
	if i := strings.Index(hint, ":"); i >= 0 {
		return hint[:i], hint[i+1:]
	}
	return "", hint
}

// Addresses returns a copy of the observed address set.
func (b *Building) Addresses() []normalize.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]normalize.Address, len(b.addresses))
	copy(out, b.addresses)
	return out
}
