package positioning

import (
	"errors"
	"fmt"
	"time"
)

// Default tuning constants.
const (
	DefaultSmoothingAlpha        = 0.5
	DefaultTopK                  = 4
	DefaultObservationTTL        = 10 * time.Second
	DefaultFingerprintCapacity   = 1000
	DefaultAffinityDamping       = 0.6
	DefaultAffinityMaxIterations = 100
	DefaultAffinityEpsilon       = 1e-6
	DefaultMinBeacons            = 3
	DefaultMinDistance           = 0.1
	DefaultMaxDistance           = 1000.0
	DefaultAccuracy              = 10.0

	// minSimilarity is the exemplar preference used when no non-zero pairwise
	// similarity exists.
	minSimilarity = -1000.0
)

// Config holds the estimator tuning parameters.
type Config struct {
	SmoothingAlpha        float64
	TopK                  int
	ObservationTTL        time.Duration
	FingerprintCapacity   int
	AffinityDamping       float64
	AffinityMaxIterations int
	AffinityEpsilon       float64
	MinBeacons            int
	MinDistance           float64
	MaxDistance           float64
	DefaultAccuracy       float64
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		SmoothingAlpha:        DefaultSmoothingAlpha,
		TopK:                  DefaultTopK,
		ObservationTTL:        DefaultObservationTTL,
		FingerprintCapacity:   DefaultFingerprintCapacity,
		AffinityDamping:       DefaultAffinityDamping,
		AffinityMaxIterations: DefaultAffinityMaxIterations,
		AffinityEpsilon:       DefaultAffinityEpsilon,
		MinBeacons:            DefaultMinBeacons,
		MinDistance:           DefaultMinDistance,
		MaxDistance:           DefaultMaxDistance,
		DefaultAccuracy:       DefaultAccuracy,
	}
}

// WithDefaults fills every zero field with its default. Zero always means
// unset, so a damping of exactly zero cannot be configured.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.SmoothingAlpha == 0 {
		c.SmoothingAlpha = d.SmoothingAlpha
	}
	if c.TopK == 0 {
		c.TopK = d.TopK
	}
	if c.ObservationTTL == 0 {
		c.ObservationTTL = d.ObservationTTL
	}
	if c.FingerprintCapacity == 0 {
		c.FingerprintCapacity = d.FingerprintCapacity
	}
	if c.AffinityDamping == 0 {
		c.AffinityDamping = d.AffinityDamping
	}
	if c.AffinityMaxIterations == 0 {
		c.AffinityMaxIterations = d.AffinityMaxIterations
	}
	if c.AffinityEpsilon == 0 {
		c.AffinityEpsilon = d.AffinityEpsilon
	}
	if c.MinBeacons == 0 {
		c.MinBeacons = d.MinBeacons
	}
	if c.MinDistance == 0 {
		c.MinDistance = d.MinDistance
	}
	if c.MaxDistance == 0 {
		c.MaxDistance = d.MaxDistance
	}
	if c.DefaultAccuracy == 0 {
		c.DefaultAccuracy = d.DefaultAccuracy
	}
	return c
}

// Validate checks that every parameter is usable.
func (c Config) Validate() error {
	var errs []error
	if c.SmoothingAlpha <= 0 || c.SmoothingAlpha > 1 {
		errs = append(errs, fmt.Errorf("smoothing alpha must be in (0,1], got %v", c.SmoothingAlpha))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("top-k must be positive, got %d", c.TopK))
	}
	if c.ObservationTTL <= 0 {
		errs = append(errs, fmt.Errorf("observation ttl must be positive, got %s", c.ObservationTTL))
	}
	if c.FingerprintCapacity < c.TopK {
		errs = append(errs, fmt.Errorf("fingerprint capacity %d is below top-k %d", c.FingerprintCapacity, c.TopK))
	}
	if c.AffinityDamping <= 0 || c.AffinityDamping >= 1 {
		errs = append(errs, fmt.Errorf("affinity damping must be in (0,1), got %v", c.AffinityDamping))
	}
	if c.AffinityMaxIterations < 1 {
		errs = append(errs, fmt.Errorf("affinity max iterations must be positive, got %d", c.AffinityMaxIterations))
	}
	if c.AffinityEpsilon <= 0 {
		errs = append(errs, fmt.Errorf("affinity epsilon must be positive, got %v", c.AffinityEpsilon))
	}
	if c.MinBeacons < 1 {
		errs = append(errs, fmt.Errorf("minimum beacons must be positive, got %d", c.MinBeacons))
	}
	if c.MinDistance <= 0 || c.MaxDistance <= c.MinDistance {
		errs = append(errs, fmt.Errorf("distance band [%v, %v] is invalid", c.MinDistance, c.MaxDistance))
	}
	if c.DefaultAccuracy <= 0 {
		errs = append(errs, fmt.Errorf("default accuracy must be positive, got %v", c.DefaultAccuracy))
	}
	return errors.Join(errs...)
}
