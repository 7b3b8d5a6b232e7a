package positioning

import (
	"context"
	"math"
	"time"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WeightedCentroid estimates a position as the inverse-square-distance
// weighted average of the registered beacon coordinates. It holds no mutable
// state, so concurrent calls are safe.
type WeightedCentroid struct {
	cfg    Config
	logger zerolog.Logger
	now    clock
}

// NewWeightedCentroid creates a WeightedCentroid. cfg is used as given; call
// WithDefaults first when building from partial configuration.
func NewWeightedCentroid(cfg Config, logger zerolog.Logger) *WeightedCentroid {
	return &WeightedCentroid{cfg: cfg, logger: logger, now: time.Now}
}

// Strategy implements Estimator.
func (w *WeightedCentroid) Strategy() Strategy { return StrategyWeightedCentroid }

// Stats implements Estimator.
func (w *WeightedCentroid) Stats() Stats { return Stats{} }

// Weight returns the centroid weight for a beacon at distance d meters.
func Weight(d float64) float64 {
	return 1.0 / (d*d + 0.1)
}

// Estimate implements Estimator.
func (w *WeightedCentroid) Estimate(_ context.Context, observations []beacon.Observation) (*Position, error) {
	if len(observations) == 0 {
		w.logger.Debug().Msg("No beacons provided")
		return nil, nil
	}

	lats := make([]float64, 0, len(observations))
	lons := make([]float64, 0, len(observations))
	distances := make([]float64, 0, len(observations))
	for _, obs := range observations {
		if !w.usable(obs) {
			w.logger.Debug().Str("beacon", obs.Identity.String()).
				Float64("distance", obs.Distance).
				Msg("Skipping beacon with invalid coordinate or distance")
			continue
		}
		lats = append(lats, obs.Latitude)
		lons = append(lons, obs.Longitude)
		distances = append(distances, obs.Distance)
	}

	if len(distances) < w.cfg.MinBeacons {
		w.logger.Debug().Int("valid_beacons", len(distances)).Msg("Not enough valid beacons")
		return nil, nil
	}

	weights := make([]float64, len(distances))
	for i, d := range distances {
		weights[i] = Weight(d)
	}

	totalWeight := floats.Sum(weights)
	if totalWeight <= 0 {
		w.logger.Warn().Float64("total_weight", totalWeight).Msg("Total weight is zero or negative")
		return nil, nil
	}

	lat := floats.Dot(lats, weights) / totalWeight
	lon := floats.Dot(lons, weights) / totalWeight
	if !IsValidCoordinate(lat, lon) {
		w.logger.Warn().Float64("lat", lat).Float64("lon", lon).Msg("Invalid coordinates calculated")
		return nil, nil
	}

	pos := &Position{
		Latitude:   lat,
		Longitude:  lon,
		Accuracy:   w.accuracy(distances),
		ComputedAt: w.now(),
	}
	w.logger.Debug().
		Float64("lat", pos.Latitude).
		Float64("lon", pos.Longitude).
		Float64("accuracy", pos.Accuracy).
		Int("beacons", len(distances)).
		Msg("Weighted centroid computed")
	return pos, nil
}

// usable reports whether an observation may contribute to the centroid.
// Distances outside the valid band are excluded, not clamped.
func (w *WeightedCentroid) usable(obs beacon.Observation) bool {
	if !IsValidCoordinate(obs.Latitude, obs.Longitude) {
		return false
	}
	d := obs.Distance
	return !math.IsNaN(d) && d >= w.cfg.MinDistance && d <= w.cfg.MaxDistance
}

// accuracy is the population standard deviation of the contributing
// distances, clamped to the valid distance band.
func (w *WeightedCentroid) accuracy(distances []float64) float64 {
	if len(distances) < 2 {
		return w.cfg.DefaultAccuracy
	}
	std := math.Sqrt(stat.PopVariance(distances, nil))
	if math.IsNaN(std) {
		return w.cfg.DefaultAccuracy
	}
	return math.Min(math.Max(std, w.cfg.MinDistance), w.cfg.MaxDistance)
}
