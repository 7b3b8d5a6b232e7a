package positioning

import (
	"time"

	"github.com/rootCircle/Beaconify/pkg/beacon"
)

type smoothedValue struct {
	rssi      float64
	updatedAt time.Time
}

// smoother keeps the exponentially smoothed RSSI per beacon. Entries not
// refreshed within ttl are pruned so the map cannot grow with beacon churn.
type smoother struct {
	alpha   float64
	ttl     time.Duration
	entries map[beacon.Identity]smoothedValue
}

func newSmoother(alpha float64, ttl time.Duration) *smoother {
	return &smoother{
		alpha:   alpha,
		ttl:     ttl,
		entries: make(map[beacon.Identity]smoothedValue),
	}
}

// smoothedReading is one beacon's smoothed RSSI in observation order.
type smoothedReading struct {
	id   beacon.Identity
	rssi float64
}

// smooth computes smoothed values for observations without mutating state.
// A beacon with no history, or history older than ttl at now, is seeded with
// its current raw RSSI.
func (s *smoother) smooth(observations []beacon.Observation, now time.Time) []smoothedReading {
	out := make([]smoothedReading, 0, len(observations))
	seen := make(map[beacon.Identity]int, len(observations))
	for _, obs := range observations {
		current := float64(obs.RSSI)
		previous := current
		if idx, ok := seen[obs.Identity]; ok {
			previous = out[idx].rssi
		} else if prior, ok := s.entries[obs.Identity]; ok && !s.stale(prior, now) {
			previous = prior.rssi
		}
		value := s.alpha*current + (1-s.alpha)*previous
		if idx, ok := seen[obs.Identity]; ok {
			out[idx].rssi = value
			continue
		}
		seen[obs.Identity] = len(out)
		out = append(out, smoothedReading{id: obs.Identity, rssi: value})
	}
	return out
}

// commit stores readings as the new smoothing state.
func (s *smoother) commit(readings []smoothedReading, now time.Time) {
	for _, r := range readings {
		s.entries[r.id] = smoothedValue{rssi: r.rssi, updatedAt: now}
	}
}

func (s *smoother) stale(v smoothedValue, now time.Time) bool {
	return now.Sub(v.updatedAt) > s.ttl
}

// prune drops entries older than ttl and returns how many were removed.
func (s *smoother) prune(now time.Time) int {
	removed := 0
	for id, v := range s.entries {
		if s.stale(v, now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *smoother) len() int {
	return len(s.entries)
}
