package identity

import (
	"sync"
)

// Cache is the single source of truth for building identities during a
// run. Identities live in an arena keyed by canonical id; lookup keys
// (normalized-address keys and parcel hints) map into the arena through
// a secondary index. Insertion is at-most-once per key: concurrent
// misses on the same key share one loader call.
type Cache struct {
	mu       sync.RWMutex
	arena    map[string]*Building // canonical id -> identity
	index    map[string]string    // lookup key -> canonical id
	inflight map[string]*call
}

type call struct {
	done     chan struct{}
	building *Building
	err      error
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		arena:    make(map[string]*Building),
		index:    make(map[string]string),
		inflight: make(map[string]*call),
	}
}

// Lookup returns the identity registered under the lookup key, if any.
func (c *Cache) Lookup(key string) (*Building, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.index[key]
	if !ok {
		return nil, false
	}
	b, ok := c.arena[id]
	return b, ok
}

// Get returns the identity with the given canonical id, if any.
func (c *Cache) Get(canonicalID string) (*Building, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.arena[canonicalID]
	return b, ok
}

// Insert registers an identity in the arena and binds the lookup keys
// to it. If the canonical id is already present the existing identity
// wins and is returned, so callers never hold divergent duplicates.
func (c *Cache) Insert(b *Building, keys ...string) *Building {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.arena[b.CanonicalID]; ok {
		b = existing
	} else {
		c.arena[b.CanonicalID] = b
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, bound := c.index[key]; !bound {
			c.index[key] = b.CanonicalID
		}
	}
	return b
}

// BindKey adds a lookup key for an identity already in the arena.
func (c *Cache) BindKey(key, canonicalID string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, bound := c.index[key]; !bound {
		c.index[key] = canonicalID
	}
}

// ResolveOnce looks the key up and, on a miss, runs load exactly once no
// matter how many goroutines miss concurrently; the other callers block
// and share the first caller's outcome. A failed load is not cached, so
// a later call may retry.
func (c *Cache) ResolveOnce(key string, load func() (*Building, []string, error)) (*Building, error) {
	c.mu.Lock()
	if id, ok := c.index[key]; ok {
		b := c.arena[id]
		c.mu.Unlock()
		return b, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		<-cl.done
		if cl.err != nil {
			return nil, cl.err
		}
		return cl.building, nil
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	b, extraKeys, err := load()
	if err == nil {
		b = c.Insert(b, append([]string{key}, extraKeys...)...)
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	cl.building, cl.err = b, err
	close(cl.done)

	if err != nil {
		return nil, err
	}
	return b, nil
}

// Size returns the number of identities in the arena.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.arena)
}

// Keys returns the number of bound lookup keys.
func (c *Cache) Keys() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}
