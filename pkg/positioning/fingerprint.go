package positioning

import (
	"math"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"gonum.org/v1/gonum/stat"
)

// Fingerprint is a radio snapshot captured together with the position it was
// estimated at. It is never modified after creation.
type Fingerprint struct {
	Position     Position
	SmoothedRSSI map[beacon.Identity]float64
	RankedIDs    []beacon.Identity // strongest first, at most top-k
	AverageRSSI  float64
	CapturedAt   time.Time
}

// newFingerprint ranks readings by smoothed RSSI (stable, strongest first)
// and keeps the top k. The average covers every reading, not only the top k.
func newFingerprint(pos Position, readings []smoothedReading, k int, now time.Time) Fingerprint {
	values := make(map[beacon.Identity]float64, len(readings))
	rssi := make([]float64, 0, len(readings))
	for _, r := range readings {
		values[r.id] = r.rssi
		rssi = append(rssi, r.rssi)
	}

	ranked := make([]smoothedReading, len(readings))
	copy(ranked, readings)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].rssi > ranked[j].rssi
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	ids := make([]beacon.Identity, len(ranked))
	for i, r := range ranked {
		ids[i] = r.id
	}

	avg := math.NaN()
	if len(rssi) > 0 {
		avg = stat.Mean(rssi, nil)
	}

	return Fingerprint{
		Position:     pos,
		SmoothedRSSI: values,
		RankedIDs:    ids,
		AverageRSSI:  avg,
		CapturedAt:   now,
	}
}

// RSSISimilarity is 1/(1+RMS difference) over the beacons both fingerprints
// saw, or 0 when they share none.
func RSSISimilarity(a, b map[beacon.Identity]float64) float64 {
	var sum float64
	common := 0
	for id, va := range a {
		vb, ok := b[id]
		if !ok {
			continue
		}
		diff := va - vb
		sum += diff * diff
		common++
	}
	if common == 0 {
		return 0
	}
	return 1.0 / (1.0 + math.Sqrt(sum/float64(common)))
}

// BeaconOverlap is the share of k taken by identities ranked in both lists.
func BeaconOverlap(a, b []beacon.Identity, k int) float64 {
	inB := make(map[beacon.Identity]struct{}, len(b))
	for _, id := range b {
		inB[id] = struct{}{}
	}
	common := 0
	counted := make(map[beacon.Identity]struct{}, len(a))
	for _, id := range a {
		if _, dup := counted[id]; dup {
			continue
		}
		if _, ok := inB[id]; ok {
			common++
			counted[id] = struct{}{}
		}
	}
	return float64(common) / float64(k)
}

// FingerprintDatabase is a bounded, insertion-ordered fingerprint store.
// When over capacity the oldest fingerprints by capture time are evicted.
type FingerprintDatabase struct {
	capacity int
	items    []Fingerprint
}

// NewFingerprintDatabase creates an empty database holding at most capacity fingerprints.
func NewFingerprintDatabase(capacity int) *FingerprintDatabase {
	return &FingerprintDatabase{capacity: capacity}
}

// Add appends fp and evicts the oldest entries while over capacity. It
// returns the number of evicted fingerprints.
func (db *FingerprintDatabase) Add(fp Fingerprint) int {
	db.items = append(db.items, fp)
	over := len(db.items) - db.capacity
	if over <= 0 {
		return 0
	}
	sort.SliceStable(db.items, func(i, j int) bool {
		return db.items[i].CapturedAt.Before(db.items[j].CapturedAt)
	})
	kept := make([]Fingerprint, len(db.items)-over)
	copy(kept, db.items[over:])
	db.items = kept
	return over
}

// Len returns the number of stored fingerprints.
func (db *FingerprintDatabase) Len() int {
	return len(db.items)
}

// At returns the i-th fingerprint.
func (db *FingerprintDatabase) At(i int) Fingerprint {
	return db.items[i]
}

// Points returns every stored fingerprint position in coordinate space.
func (db *FingerprintDatabase) Points() []orb.Point {
	points := make([]orb.Point, len(db.items))
	for i, fp := range db.items {
		points[i] = fp.Position.Point()
	}
	return points
}

// All returns a copy of the stored fingerprints.
func (db *FingerprintDatabase) All() []Fingerprint {
	out := make([]Fingerprint, len(db.items))
	copy(out, db.items)
	return out
}
