package positioning

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew_Strategies tests the estimator factory.
func TestNew_Strategies(t *testing.T) {
	e, err := New("", Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, StrategyWeightedCentroid, e.Strategy())

	e, err = New(StrategyFingerprintRefined, Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, StrategyFingerprintRefined, e.Strategy())
	assert.IsType(t, &FingerprintRefined{}, e)

	_, err = New("kalman", Config{}, zerolog.Nop())
	assert.ErrorContains(t, err, `unknown positioning strategy "kalman"`)
}

// TestNew_InvalidConfig tests that a bad configuration is rejected.
func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(StrategyWeightedCentroid, Config{SmoothingAlpha: 1.5}, zerolog.Nop())
	assert.ErrorContains(t, err, "smoothing alpha")
}

// TestConfig_WithDefaults tests that only zero fields are filled.
func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{TopK: 6, ObservationTTL: 30 * time.Second}.WithDefaults()

	assert.Equal(t, 6, cfg.TopK)
	assert.Equal(t, 30*time.Second, cfg.ObservationTTL)
	assert.Equal(t, DefaultSmoothingAlpha, cfg.SmoothingAlpha)
	assert.Equal(t, DefaultFingerprintCapacity, cfg.FingerprintCapacity)
	assert.Equal(t, DefaultAffinityDamping, cfg.AffinityDamping)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())
}

// TestConfig_Validate tests that every violation is reported.
func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AffinityDamping = 1
	cfg.FingerprintCapacity = 2
	cfg.MinDistance = 5
	cfg.MaxDistance = 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "affinity damping")
	assert.ErrorContains(t, err, "fingerprint capacity 2 is below top-k 4")
	assert.ErrorContains(t, err, "distance band")
}

// TestConfig_ZeroDamping tests that zero damping means the default and is never validated as-is.
func TestConfig_ZeroDamping(t *testing.T) {
	cfg := Config{AffinityDamping: 0}.WithDefaults()
	assert.Equal(t, DefaultAffinityDamping, cfg.AffinityDamping)
	assert.NoError(t, cfg.Validate())

	cfg.AffinityDamping = 0
	assert.ErrorContains(t, cfg.Validate(), "affinity damping must be in (0,1), got 0")

	cfg.AffinityDamping = 0.01
	assert.NoError(t, cfg.Validate())
}

// TestIsValidCoordinate tests the coordinate validity rule.
func TestIsValidCoordinate(t *testing.T) {
	assert.True(t, IsValidCoordinate(26.8, 81.0))
	assert.True(t, IsValidCoordinate(0, 81.0))
	assert.True(t, IsValidCoordinate(-90, 180))
	assert.False(t, IsValidCoordinate(0, 0))
	assert.False(t, IsValidCoordinate(90.1, 0))
	assert.False(t, IsValidCoordinate(0, -180.1))
	assert.False(t, IsValidCoordinate(math.NaN(), 1))
	assert.False(t, IsValidCoordinate(1, math.Inf(1)))
}
