package positioning

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultAffinityParams() AffinityParams {
	return AffinityParams{
		Damping:       DefaultAffinityDamping,
		MaxIterations: DefaultAffinityMaxIterations,
		Epsilon:       DefaultAffinityEpsilon,
	}
}

func twoGroups() []orb.Point {
	return []orb.Point{
		{1.0, 1.0}, {1.2, 1.1}, {0.9, 1.3}, {1.1, 0.8}, {1.05, 1.15},
		{10.0, 10.0}, {10.3, 9.9}, {9.8, 10.2}, {10.1, 10.4},
	}
}

// TestAffinityPropagation_TwoGroups tests that well separated groups get one exemplar each.
func TestAffinityPropagation_TwoGroups(t *testing.T) {
	c, err := AffinityPropagation(context.Background(), twoGroups(), defaultAffinityParams())
	require.NoError(t, err)

	assert.True(t, c.Converged)
	assert.Equal(t, []int{4, 5}, c.Exemplars)
	assert.Equal(t, []int{0, 0, 0, 0, 0, 1, 1, 1, 1}, c.Labels)
	assert.LessOrEqual(t, c.Iterations, DefaultAffinityMaxIterations)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, c.Members(0))
	assert.Equal(t, []int{5, 6, 7, 8}, c.Members(1))
}

// TestAffinityPropagation_ExemplarsLabelThemselves tests that every exemplar belongs to its own cluster.
func TestAffinityPropagation_ExemplarsLabelThemselves(t *testing.T) {
	p := defaultAffinityParams()
	p.MaxIterations = 5

	c, err := AffinityPropagation(context.Background(), twoGroups(), p)
	require.NoError(t, err)

	assert.False(t, c.Converged)
	assert.Equal(t, 5, c.Iterations)
	require.NotEmpty(t, c.Exemplars)
	for e, idx := range c.Exemplars {
		assert.Equal(t, e, c.Labels[idx])
	}
}

// TestAffinityPropagation_IterationCap tests that the iteration count never exceeds the cap.
func TestAffinityPropagation_IterationCap(t *testing.T) {
	for _, maxIter := range []int{1, 2, 10, 50} {
		p := defaultAffinityParams()
		p.MaxIterations = maxIter
		c, err := AffinityPropagation(context.Background(), twoGroups(), p)
		require.NoError(t, err)
		assert.LessOrEqual(t, c.Iterations, maxIter)
		assert.Len(t, c.Labels, len(twoGroups()))
	}
}

// TestAffinityPropagation_Trivial tests empty and single point input.
func TestAffinityPropagation_Trivial(t *testing.T) {
	c, err := AffinityPropagation(context.Background(), nil, defaultAffinityParams())
	require.NoError(t, err)
	assert.Empty(t, c.Exemplars)
	assert.Empty(t, c.Labels)

	c, err = AffinityPropagation(context.Background(), []orb.Point{{3, 4}}, defaultAffinityParams())
	require.NoError(t, err)
	assert.Equal(t, []int{0}, c.Exemplars)
	assert.Equal(t, []int{0}, c.Labels)
	assert.Equal(t, 0, c.Iterations)
}

// TestAffinityPropagation_IdenticalPoints tests that coincident points fall back to the floor preference.
func TestAffinityPropagation_IdenticalPoints(t *testing.T) {
	points := []orb.Point{{1, 1}, {1, 1}, {1, 1}, {1, 1}}

	c, err := AffinityPropagation(context.Background(), points, defaultAffinityParams())
	require.NoError(t, err)
	assert.Empty(t, c.Exemplars)
	assert.Equal(t, []int{-1, -1, -1, -1}, c.Labels)
	assert.Empty(t, c.Members(0))
}

// TestAffinityPropagation_Cancelled tests that a done context aborts clustering.
func TestAffinityPropagation_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := AffinityPropagation(ctx, twoGroups(), defaultAffinityParams())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestAffinityPropagation_WorkspaceReuse tests that reused buffers give identical results.
func TestAffinityPropagation_WorkspaceReuse(t *testing.T) {
	var ws affinityWorkspace
	big, err := affinityPropagation(context.Background(), twoGroups(), defaultAffinityParams(), &ws)
	require.NoError(t, err)

	small := twoGroups()[:5]
	_, err = affinityPropagation(context.Background(), small, defaultAffinityParams(), &ws)
	require.NoError(t, err)

	again, err := affinityPropagation(context.Background(), twoGroups(), defaultAffinityParams(), &ws)
	require.NoError(t, err)
	assert.Equal(t, big, again)
}

// TestMedian tests odd, even and empty inputs.
func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{3, 1, 2}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 3, 2}))
	assert.Equal(t, minSimilarity, median(nil))
}
