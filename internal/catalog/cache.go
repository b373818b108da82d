package catalog

import (
	"sync"
	"time"
)

// Projections is the pre-split view of the mirror handed to the search
// engine: public charts and everything else.
type Projections struct {
	Public  []ChartRecord
	Private []ChartRecord
}

// ViewCache memoizes the mirror's public/private projections for a short
// TTL. Every mutating operation invalidates it outright so a stale split is
// never knowingly served past a mutation; a cold or disabled cache simply
// degrades to recomputing from the mirror and can never fail a read.
type ViewCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	clock   func() time.Time
	value   *Projections
	expires time.Time
	// generation advances on every Invalidate. A recompute started under an
	// older generation may have snapshotted the mirror before the mutation
	// that invalidated the cache; Set refuses to store it.
	generation uint64
}

// NewViewCache builds a cache with the given TTL. A non-positive TTL
// disables caching entirely.
func NewViewCache(ttl time.Duration, clock func() time.Time) *ViewCache {
	if clock == nil {
		clock = time.Now
	}
	return &ViewCache{ttl: ttl, clock: clock}
}

// Get returns the cached projections when present and fresh, along with the
// generation token a recompute must hand back to Set.
func (c *ViewCache) Get() (Projections, uint64, bool) {
	if c == nil || c.ttl <= 0 {
		return Projections{}, 0, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.value == nil || c.clock().After(c.expires) {
		return Projections{}, c.generation, false
	}
	return *c.value, c.generation, true
}

// Set stores projections computed under the given generation. Values from a
// superseded generation are dropped.
func (c *ViewCache) Set(value Projections, generation uint64) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	c.value = &value
	c.expires = c.clock().Add(c.ttl)
}

// Invalidate clears the cache immediately, not merely letting it expire,
// and advances the generation so in-flight recomputes cannot re-seed the
// dropped value.
func (c *ViewCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.generation++
}

// Split computes the public/private projections from a mirror snapshot.
func Split(records []ChartRecord) Projections {
	projections := Projections{}
	for _, record := range records {
		if record.Meta.IsPublic {
			projections.Public = append(projections.Public, record)
		} else {
			projections.Private = append(projections.Private, record)
		}
	}
	return projections
}
