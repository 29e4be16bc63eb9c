// Package cache holds published content keyed by canonical identifier.
//
// Every entry carries one implicit reference owned by the cache. An entry
// is reclaimable when that is the only reference left and no load of its
// identifier is in flight.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/keithlinneman/linnemanlabs-assets/internal/content"
)

type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Evicted int64 `json:"evicted"`
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*content.Shared

	hits    atomic.Int64
	misses  atomic.Int64
	evicted atomic.Int64
}

func New() *Cache {
	return &Cache{entries: make(map[string]*content.Shared)}
}

// Get returns the entry for id with one reference added for the caller,
// or nil.
func (c *Cache) Get(id string) *content.Shared {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.entries[id]
	if s == nil {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	return s.Retain()
}

// Contains reports whether id is cached without taking a reference.
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Put stores s under id, taking over the reference the caller holds. A
// replaced entry loses its cache reference; holders of the old handle keep
// it alive until they release.
func (c *Cache) Put(id string, s *content.Shared) {
	c.mu.Lock()
	old := c.entries[id]
	c.entries[id] = s
	c.mu.Unlock()
	if old != nil && old != s {
		old.Release()
	}
}

// Sweep evicts every entry held only by the cache whose identifier has no
// load in flight, and returns how many were evicted.
//
// inFlight takes the coordinator's lock, which is ordered before the cache
// lock, so candidates are gathered first and confirmed after.
func (c *Cache) Sweep(inFlight func(id string) bool) int {
	c.mu.Lock()
	var candidates []string
	for id, s := range c.entries {
		if s.Refs() == 1 {
			candidates = append(candidates, id)
		}
	}
	c.mu.Unlock()

	if inFlight != nil {
		kept := candidates[:0]
		for _, id := range candidates {
			if !inFlight(id) {
				kept = append(kept, id)
			}
		}
		candidates = kept
	}

	var victims []*content.Shared
	c.mu.Lock()
	for _, id := range candidates {
		s := c.entries[id]
		// Get may have handed out a reference since the first pass
		if s == nil || s.Refs() != 1 {
			continue
		}
		delete(c.entries, id)
		victims = append(victims, s)
	}
	c.mu.Unlock()

	for _, s := range victims {
		s.Release()
	}
	c.evicted.Add(int64(len(victims)))
	return len(victims)
}

// Reset drops every entry. Outstanding handles stay valid until released.
func (c *Cache) Reset() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*content.Shared)
	c.mu.Unlock()
	for _, s := range old {
		s.Release()
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IDs returns the cached identifiers in no particular order.
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for id := range c.entries {
		out = append(out, id)
	}
	return out
}

func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Evicted: c.evicted.Load(),
	}
}
