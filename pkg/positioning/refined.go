package positioning

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/paulmach/orb/planar"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
)

// FingerprintRefined bootstraps with a weighted centroid and then refines the
// estimate against clusters of previously captured fingerprints.
//
// The smoothing state and fingerprint database are owned by the estimator and
// guarded by a single mutex, so at most one estimation runs at a time. State,
// including pruning of stale smoothing entries, is only written once an
// estimation has succeeded; a cancelled or failed call leaves it untouched.
// When clustering runs out of time the bootstrap position is returned and the
// fingerprint is still recorded.
type FingerprintRefined struct {
	cfg       Config
	bootstrap *WeightedCentroid
	logger    zerolog.Logger
	now       clock

	mu          sync.Mutex
	smoother    *smoother
	db          *FingerprintDatabase
	workspace   affinityWorkspace
	last        Clustering
	clusterings uint64
}

// NewFingerprintRefined creates a cold FingerprintRefined estimator.
func NewFingerprintRefined(cfg Config, logger zerolog.Logger) *FingerprintRefined {
	f := &FingerprintRefined{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		smoother: newSmoother(cfg.SmoothingAlpha, cfg.ObservationTTL),
		db:       NewFingerprintDatabase(cfg.FingerprintCapacity),
	}
	f.bootstrap = &WeightedCentroid{cfg: cfg, logger: logger, now: f.clock}
	return f
}

func (f *FingerprintRefined) clock() time.Time { return f.now() }

// Strategy implements Estimator.
func (f *FingerprintRefined) Strategy() Strategy { return StrategyFingerprintRefined }

// Stats implements Estimator.
func (f *FingerprintRefined) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Fingerprints:     f.db.Len(),
		SmoothingEntries: f.smoother.len(),
		LastIterations:   f.last.Iterations,
		LastExemplars:    len(f.last.Exemplars),
		LastConverged:    f.last.Converged,
		Clusterings:      f.clusterings,
	}
}

// Fingerprints returns a copy of the fingerprint database.
func (f *FingerprintRefined) Fingerprints() []Fingerprint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.db.All()
}

// Estimate implements Estimator.
func (f *FingerprintRefined) Estimate(ctx context.Context, observations []beacon.Observation) (*Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	base, err := f.bootstrap.Estimate(ctx, observations)
	if err != nil || base == nil {
		return nil, err
	}

	readings := f.smoother.smooth(observations, now)
	current := newFingerprint(*base, readings, f.cfg.TopK, now)

	if f.db.Len() < f.cfg.TopK {
		f.commit(readings, current, now)
		f.logger.Debug().Int("fingerprints", f.db.Len()).Msg("Warming up fingerprint database")
		return base, nil
	}

	refined, err := f.refine(ctx, *base, current)
	if errors.Is(err, context.DeadlineExceeded) {
		f.logger.Warn().
			Int("fingerprints", f.db.Len()).
			Msg("Fingerprint clustering ran out of time, keeping bootstrap estimate")
		refined, err = base, nil
	}
	if err != nil {
		return nil, err
	}

	f.commit(readings, current, now)
	return refined, nil
}

// commit records a successful estimation.
func (f *FingerprintRefined) commit(readings []smoothedReading, current Fingerprint, now time.Time) {
	if pruned := f.smoother.prune(now); pruned > 0 {
		f.logger.Debug().Int("pruned", pruned).Msg("Pruned stale smoothing entries")
	}
	f.smoother.commit(readings, now)
	if evicted := f.db.Add(current); evicted > 0 {
		f.logger.Debug().Int("evicted", evicted).Msg("Evicted oldest fingerprints")
	}
}

// refine clusters the stored fingerprints, picks the cluster whose exemplar is
// nearest the bootstrap position and averages its members weighted by radio
// similarity to current.
func (f *FingerprintRefined) refine(ctx context.Context, base Position, current Fingerprint) (*Position, error) {
	points := f.db.Points()
	clustering, err := affinityPropagation(ctx, points, AffinityParams{
		Damping:       f.cfg.AffinityDamping,
		MaxIterations: f.cfg.AffinityMaxIterations,
		Epsilon:       f.cfg.AffinityEpsilon,
	}, &f.workspace)
	if err != nil {
		return nil, fmt.Errorf("clustering fingerprints: %w", err)
	}
	f.last = clustering
	f.clusterings++

	f.logger.Debug().
		Int("fingerprints", len(points)).
		Int("exemplars", len(clustering.Exemplars)).
		Int("iterations", clustering.Iterations).
		Bool("converged", clustering.Converged).
		Msg("Fingerprint clustering finished")

	if len(clustering.Exemplars) == 0 {
		return &base, nil
	}

	nearest := 0
	nearestDist := math.Inf(1)
	origin := base.Point()
	for e, idx := range clustering.Exemplars {
		if d := planar.Distance(points[idx], origin); d < nearestDist {
			nearestDist = d
			nearest = e
		}
	}

	var totalWeight, lat, lon, accuracySum float64
	matched := 0
	for _, i := range clustering.Members(nearest) {
		fp := f.db.At(i)
		w := RSSISimilarity(fp.SmoothedRSSI, current.SmoothedRSSI) *
			BeaconOverlap(fp.RankedIDs, current.RankedIDs, f.cfg.TopK)
		if w <= 0 {
			continue
		}
		totalWeight += w
		lat += fp.Position.Latitude * w
		lon += fp.Position.Longitude * w
		accuracySum += fp.Position.Accuracy
		matched++
	}
	if matched == 0 || totalWeight <= 0 {
		return &base, nil
	}

	refined := Position{
		Latitude:   lat / totalWeight,
		Longitude:  lon / totalWeight,
		Accuracy:   (base.Accuracy + accuracySum/float64(matched)) / 2,
		ComputedAt: base.ComputedAt,
	}
	if math.IsNaN(refined.Latitude) || math.IsNaN(refined.Longitude) || math.IsNaN(refined.Accuracy) ||
		math.IsInf(refined.Latitude, 0) || math.IsInf(refined.Longitude, 0) || math.IsInf(refined.Accuracy, 0) {
		return nil, ErrNonFiniteResult
	}
	if !IsValidCoordinate(refined.Latitude, refined.Longitude) {
		f.logger.Warn().
			Float64("lat", refined.Latitude).
			Float64("lon", refined.Longitude).
			Msg("Refined position failed validity check, keeping bootstrap estimate")
		return &base, nil
	}

	f.logger.Debug().
		Int("matched", matched).
		Float64("lat", refined.Latitude).
		Float64("lon", refined.Longitude).
		Float64("accuracy", refined.Accuracy).
		Msg("Position refined from fingerprints")
	return &refined, nil
}
