package beacon

import (
	"context"
	"hash/fnv"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Lookup resolves a beacon identity to its registered coordinates.
type Lookup interface {
	Lookup(id Identity) (Location, bool)
}

// Entry is one registered beacon as delivered by a registry source.
type Entry struct {
	Identity  Identity
	Latitude  float64
	Longitude float64
	Active    bool
}

// Source fetches a full registry snapshot from an external collaborator.
type Source interface {
	Fetch(ctx context.Context) ([]Entry, error)
}

// Registry is a read-mostly snapshot of registered beacons. Lookups are safe
// while a refresh replaces the snapshot. Beacons are keyed by the full
// Identity, so field values may contain any character.
type Registry struct {
	snapshot atomic.Pointer[cmap.ConcurrentMap[Identity, Location]]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := newIdentityMap()
	r.snapshot.Store(&empty)
	return r
}

func newIdentityMap() cmap.ConcurrentMap[Identity, Location] {
	return cmap.NewWithCustomShardingFunction[Identity, Location](shardIdentity)
}

func shardIdentity(id Identity) uint32 {
	h := fnv.New32a()
	for _, field := range [...]string{id.UUID, id.Major, id.Minor} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// Lookup implements Lookup.
func (r *Registry) Lookup(id Identity) (Location, bool) {
	return r.snapshot.Load().Get(id)
}

// Replace swaps in a new snapshot built from entries. Inactive entries are
// skipped. It returns the number of beacons now registered.
func (r *Registry) Replace(entries []Entry) int {
	next := newIdentityMap()
	for _, e := range entries {
		if !e.Active {
			continue
		}
		next.Set(e.Identity, Location{Latitude: e.Latitude, Longitude: e.Longitude})
	}
	r.snapshot.Store(&next)
	return next.Count()
}

// Len returns the number of registered beacons.
func (r *Registry) Len() int {
	return r.snapshot.Load().Count()
}
