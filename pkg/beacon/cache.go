package beacon

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultObservationTTL is how long an observation stays live after its last sighting.
const DefaultObservationTTL = 10 * time.Second

// Cache holds the live set of joined observations, keyed by identity and kept
// in first-insertion order.
type Cache struct {
	registry Lookup
	ttl      time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	order   []Identity
	entries map[Identity]Observation
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithClock overrides the time source used to stamp and expire observations.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates an observation cache joined against registry.
func NewCache(registry Lookup, ttl time.Duration, logger zerolog.Logger, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultObservationTTL
	}
	c := &Cache{
		registry: registry,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		entries:  make(map[Identity]Observation),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ingest joins a batch of sightings against the registry, upserts the
// resulting observations and then evicts expired ones. Sightings of
// unregistered beacons are dropped. It returns the number of sightings joined.
func (c *Cache) Ingest(sightings []Sighting) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	joined := 0
	for _, s := range sightings {
		loc, ok := c.registry.Lookup(s.Identity)
		if !ok {
			c.logger.Debug().Str("beacon", s.Identity.String()).Msg("Ignoring sighting of unregistered beacon")
			continue
		}
		if _, exists := c.entries[s.Identity]; !exists {
			c.order = append(c.order, s.Identity)
		}
		c.entries[s.Identity] = Observation{
			Identity:   s.Identity,
			RSSI:       s.RSSI,
			Distance:   s.Distance,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			ObservedAt: now,
		}
		joined++
	}

	c.evictLocked(now)
	return joined
}

// evictLocked removes observations whose last sighting is older than the TTL.
func (c *Cache) evictLocked(now time.Time) {
	kept := c.order[:0]
	for _, id := range c.order {
		obs := c.entries[id]
		if now.Sub(obs.ObservedAt) > c.ttl {
			delete(c.entries, id)
			c.logger.Debug().Str("beacon", id.String()).Msg("Observation expired")
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

// Snapshot returns a copy of the live observations in insertion order.
func (c *Cache) Snapshot() []Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Observation, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.entries[id])
	}
	return out
}

// Contains reports whether id currently has a live observation.
func (c *Cache) Contains(id Identity) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// Len returns the number of live observations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear drops every cached observation.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.entries = make(map[Identity]Observation)
}
