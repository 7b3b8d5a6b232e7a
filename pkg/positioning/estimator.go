package positioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
)

// Strategy names an estimation variant.
type Strategy string

const (
	StrategyWeightedCentroid   Strategy = "weighted_centroid"
	StrategyFingerprintRefined Strategy = "fingerprint_refined"
)

// ErrNonFiniteResult is returned when an estimation produced NaN or Inf.
var ErrNonFiniteResult = errors.New("estimation produced a non-finite result")

// Estimator converts live observations into a position.
//
// A nil position with a nil error means there was not enough usable data or
// the geometry was invalid; both are expected steady-state outcomes. A non-nil
// error is a computation failure.
type Estimator interface {
	Estimate(ctx context.Context, observations []beacon.Observation) (*Position, error)
	Strategy() Strategy
	Stats() Stats
}

// Stats describes the estimator's internal state.
type Stats struct {
	Fingerprints     int
	SmoothingEntries int
	LastIterations   int
	LastExemplars    int
	LastConverged    bool
	// Clusterings counts completed fingerprint clusterings; it only moves
	// when a cycle actually clustered.
	Clusterings uint64
}

// New builds the estimator for strategy.
func New(strategy Strategy, cfg Config, logger zerolog.Logger) (Estimator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid positioning config: %w", err)
	}

	switch strategy {
	case StrategyWeightedCentroid, "":
		return NewWeightedCentroid(cfg, logger), nil
	case StrategyFingerprintRefined:
		return NewFingerprintRefined(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown positioning strategy %q", strategy)
	}
}

// clock is the time source shared by the estimators.
type clock func() time.Time
