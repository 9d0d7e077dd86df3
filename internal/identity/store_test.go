package identity

import (
	"path/filepath"
	"testing"

	"github.com/brownsville-complaints/internal/normalize"
)

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}

	b := NewBuilding("3037156")
	b.Latitude = 40.6624
	b.Longitude = -73.9098
	b.HasCoords = true
	addr, _ := normalize.Normalize("123", "Main St", "11212", "Brooklyn")
	b.ObserveAddress(addr)

	if err := store.Save(b, addr.Key(), "PARCEL|3037156"); err != nil {
		t.Fatal(err)
	}
	// Saving again must be a no-op upsert.
	if err := store.Save(b, addr.Key()); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen and warm a fresh cache, as a new pipeline run would.
	store, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cache := NewCache()
	loaded, err := store.LoadInto(cache)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}

	got, ok := cache.Lookup(addr.Key())
	if !ok {
		t.Fatal("address key not restored")
	}
	if got.CanonicalID != "3037156" {
		t.Errorf("canonical id = %q", got.CanonicalID)
	}
	if !got.HasCoords || got.Latitude != 40.6624 {
		t.Errorf("coordinates not restored: %+v", got)
	}
	if len(got.Addresses()) != 1 {
		t.Errorf("addresses = %d, want 1", len(got.Addresses()))
	}
	if _, ok := cache.Lookup("PARCEL|3037156"); !ok {
		t.Error("parcel key not restored")
	}
}

func TestStoreStatsAndClear(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	b := NewBuilding("B1")
	if err := store.Save(b, "k1", "k2"); err != nil {
		t.Fatal(err)
	}

	buildings, keys, err := store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if buildings != 1 || keys != 2 {
		t.Errorf("Stats() = %d buildings, %d keys; want 1, 2", buildings, keys)
	}

	if err := store.Clear(); err != nil {
		t.Fatal(err)
	}
	buildings, keys, err = store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if buildings != 0 || keys != 0 {
		t.Errorf("after Clear(): %d buildings, %d keys", buildings, keys)
	}
}

func TestResolverPersistsThroughStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}

	gc := newFakeGeocoder()
	r := NewResolver(NewCache(), store, gc)
	b, err := r.Resolve(t.Context(), fields("123", "Main St"), "3037156")
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	// A second run with a cold process but warm store resolves the same
	// id without geocoding.
	store, err = OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	cache := NewCache()
	if _, err := store.LoadInto(cache); err != nil {
		t.Fatal(err)
	}
	gc2 := newFakeGeocoder()
	r2 := NewResolver(cache, store, gc2)

	b2, err := r2.Resolve(t.Context(), fields("123", "Main Street"), "")
	if err != nil {
		t.Fatal(err)
	}
	if b2.CanonicalID != b.CanonicalID {
		t.Errorf("canonical id drifted across runs: %q vs %q", b2.CanonicalID, b.CanonicalID)
	}
	if gc2.calls != 0 {
		t.Errorf("warm-store resolve issued %d geocoder calls, want 0", gc2.calls)
	}
}
