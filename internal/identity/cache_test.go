package identity

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCacheInsertAndLookup(t *testing.T) {
	cache := NewCache()
	b := NewBuilding("3037156")
	cache.Insert(b, "123|MAIN STREET|BROOKLYN|11212", "PARCEL|3037156")

	got, ok := cache.Lookup("123|MAIN STREET|BROOKLYN|11212")
	if !ok || got.CanonicalID != "3037156" {
		t.Fatalf("Lookup by address key failed: %v %v", got, ok)
	}
	got, ok = cache.Lookup("PARCEL|3037156")
	if !ok || got.CanonicalID != "3037156" {
		t.Fatalf("Lookup by parcel key failed: %v %v", got, ok)
	}
	if _, ok := cache.Lookup("nope"); ok {
		t.Error("Lookup on unknown key should miss")
	}
}

func TestCacheInsertExistingWins(t *testing.T) {
	cache := NewCache()
	first := NewBuilding("B1")
	cache.Insert(first, "key-a")

	second := NewBuilding("B1")
	got := cache.Insert(second, "key-b")
	if got != first {
		t.Error("Insert with existing canonical id should return the original identity")
	}
	if b, _ := cache.Lookup("key-b"); b != first {
		t.Error("new key should bind to the original identity")
	}
}

func TestResolveOnceSingleFlight(t *testing.T) {
	cache := NewCache()
	var calls int32
	release := make(chan struct{})

	const workers = 16
	var wg sync.WaitGroup
	results := make([]*Building, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := cache.ResolveOnce("shared-key", func() (*Building, []string, error) {
				atomic.AddInt32(&calls, 1)
				<-release
				return NewBuilding("B-SHARED"), nil, nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = b
		}(i)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("loader ran %d times, want 1", got)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("waiters received different identities")
		}
	}
}

func TestResolveOnceFailureNotCached(t *testing.T) {
	cache := NewCache()
	boom := errors.New("boom")
	calls := 0

	_, err := cache.ResolveOnce("k", func() (*Building, []string, error) {
		calls++
		return nil, nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	// A later call may retry and succeed.
	b, err := cache.ResolveOnce("k", func() (*Building, []string, error) {
		calls++
		return NewBuilding("B2"), nil, nil
	})
	if err != nil || b.CanonicalID != "B2" {
		t.Fatalf("retry after failure: %v %v", b, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestResolveOnceHitSkipsLoader(t *testing.T) {
	cache := NewCache()
	cache.Insert(NewBuilding("B3"), "hit-key")

	b, err := cache.ResolveOnce("hit-key", func() (*Building, []string, error) {
		t.Error("loader must not run on a cache hit")
		return nil, nil, nil
	})
	if err != nil || b.CanonicalID != "B3" {
		t.Fatalf("ResolveOnce hit: %v %v", b, err)
	}
}
