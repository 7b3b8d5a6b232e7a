package beacon

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestRegistry(entries ...Entry) *Registry {
	r := NewRegistry()
	r.Replace(entries)
	return r
}

var (
	idA = Identity{UUID: "aaaa", Major: "1", Minor: "1"}
	idB = Identity{UUID: "bbbb", Major: "1", Minor: "2"}
	idC = Identity{UUID: "cccc", Major: "1", Minor: "3"}
)

func testEntries() []Entry {
	return []Entry{
		{Identity: idA, Latitude: 26.80, Longitude: 81.02, Active: true},
		{Identity: idB, Latitude: 26.81, Longitude: 81.03, Active: true},
		{Identity: idC, Latitude: 26.82, Longitude: 81.04, Active: true},
	}
}

// TestCache_Ingest_JoinsRegistry tests that sightings pick up registered coordinates.
func TestCache_Ingest_JoinsRegistry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := NewCache(newTestRegistry(testEntries()...), DefaultObservationTTL, zerolog.Nop(), WithClock(clock.Now))

	joined := cache.Ingest([]Sighting{{Identity: idA, RSSI: -60, Distance: 2.5}})
	require.Equal(t, 1, joined)

	snapshot := cache.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, idA, snapshot[0].Identity)
	assert.Equal(t, -60, snapshot[0].RSSI)
	assert.Equal(t, 2.5, snapshot[0].Distance)
	assert.Equal(t, 26.80, snapshot[0].Latitude)
	assert.Equal(t, 81.02, snapshot[0].Longitude)
	assert.Equal(t, clock.Now(), snapshot[0].ObservedAt)
}

// TestCache_Ingest_DropsUnregistered tests that unknown beacons never reach the snapshot.
func TestCache_Ingest_DropsUnregistered(t *testing.T) {
	cache := NewCache(newTestRegistry(testEntries()...), DefaultObservationTTL, zerolog.Nop())
	unknown := Identity{UUID: "ffff", Major: "9", Minor: "9"}

	joined := cache.Ingest([]Sighting{
		{Identity: unknown, RSSI: -40, Distance: 1},
		{Identity: idB, RSSI: -70, Distance: 4},
	})

	assert.Equal(t, 1, joined)
	assert.False(t, cache.Contains(unknown))
	for _, obs := range cache.Snapshot() {
		assert.NotEqual(t, unknown, obs.Identity)
	}
}

// TestCache_Expiry tests that observations older than the TTL are evicted on the next ingest.
func TestCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cache := NewCache(newTestRegistry(testEntries()...), DefaultObservationTTL, zerolog.Nop(), WithClock(clock.Now))

	cache.Ingest([]Sighting{{Identity: idA, RSSI: -60, Distance: 2}, {Identity: idB, RSSI: -65, Distance: 3}})

	// Exactly at the TTL the entry is still live.
	clock.Advance(DefaultObservationTTL)
	cache.Ingest([]Sighting{{Identity: idB, RSSI: -66, Distance: 3}})
	assert.True(t, cache.Contains(idA))

	clock.Advance(time.Millisecond)
	cache.Ingest(nil)
	assert.False(t, cache.Contains(idA))
	assert.True(t, cache.Contains(idB))
	assert.Equal(t, 1, cache.Len())
}

// TestCache_SnapshotOrder tests that upserts keep first-insertion order.
func TestCache_SnapshotOrder(t *testing.T) {
	cache := NewCache(newTestRegistry(testEntries()...), DefaultObservationTTL, zerolog.Nop())

	cache.Ingest([]Sighting{{Identity: idC, RSSI: -50, Distance: 1}, {Identity: idA, RSSI: -60, Distance: 2}})
	cache.Ingest([]Sighting{{Identity: idB, RSSI: -70, Distance: 3}, {Identity: idC, RSSI: -55, Distance: 1.5}})

	snapshot := cache.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, []Identity{idC, idA, idB}, []Identity{snapshot[0].Identity, snapshot[1].Identity, snapshot[2].Identity})
	assert.Equal(t, -55, snapshot[0].RSSI)
}

// TestCache_Clear tests that Clear empties the cache.
func TestCache_Clear(t *testing.T) {
	cache := NewCache(newTestRegistry(testEntries()...), 0, zerolog.Nop())
	cache.Ingest([]Sighting{{Identity: idA, RSSI: -60, Distance: 2}})

	cache.Clear()

	assert.Equal(t, 0, cache.Len())
	assert.Empty(t, cache.Snapshot())
}
