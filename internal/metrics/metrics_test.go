package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/pkg/positioning"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCollector_ObserveCycle tests the per-cycle metrics.
func TestCollector_ObserveCycle(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector(reg)

	c.ObserveCycle(constants.StatusLocated, 5, 3*time.Millisecond, positioning.Stats{Fingerprints: 12, SmoothingEntries: 5, LastIterations: 40, Clusterings: 1})
	c.ObserveCycle(constants.StatusNoFix, 2, time.Millisecond, positioning.Stats{Fingerprints: 12, SmoothingEntries: 2, LastIterations: 40, Clusterings: 1})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("located")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues("no_fix")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.liveBeacons))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.fingerprints))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.smoothingEntries))
	require.NoError(t, testutil.CollectAndCompare(c.affinityIters, strings.NewReader(affinityHistogram(40, 1)), "beaconify_affinity_iterations"))

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

// TestCollector_AffinityIterationsOnlyWhenClustered tests that warm-up, no-fix and
// failed cycles carrying a stale iteration count are not observed again.
func TestCollector_AffinityIterationsOnlyWhenClustered(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveCycle(constants.StatusLocated, 4, time.Millisecond, positioning.Stats{Fingerprints: 3})
	c.ObserveCycle(constants.StatusLocated, 4, time.Millisecond, positioning.Stats{Fingerprints: 5, LastIterations: 30, Clusterings: 1})
	c.ObserveCycle(constants.StatusNoFix, 1, time.Millisecond, positioning.Stats{Fingerprints: 5, LastIterations: 30, Clusterings: 1})
	c.ObserveCycle(constants.StatusError, 4, time.Millisecond, positioning.Stats{Fingerprints: 5, LastIterations: 30, Clusterings: 1})

	require.NoError(t, testutil.CollectAndCompare(c.affinityIters, strings.NewReader(affinityHistogram(30, 1)), "beaconify_affinity_iterations"))

	c.ObserveCycle(constants.StatusLocated, 4, time.Millisecond, positioning.Stats{Fingerprints: 6, LastIterations: 30, Clusterings: 2})
	require.NoError(t, testutil.CollectAndCompare(c.affinityIters, strings.NewReader(affinityHistogram(30, 2)), "beaconify_affinity_iterations"))
}

// affinityHistogram renders the exposition of count observations of iters.
func affinityHistogram(iters, count int) string {
	var b strings.Builder
	b.WriteString("# HELP beaconify_affinity_iterations Affinity propagation iterations per refinement\n")
	b.WriteString("# TYPE beaconify_affinity_iterations histogram\n")
	for le := 10; le <= 100; le += 10 {
		n := 0
		if iters <= le {
			n = count
		}
		fmt.Fprintf(&b, "beaconify_affinity_iterations_bucket{le=\"%d\"} %d\n", le, n)
	}
	fmt.Fprintf(&b, "beaconify_affinity_iterations_bucket{le=\"+Inf\"} %d\n", count)
	fmt.Fprintf(&b, "beaconify_affinity_iterations_sum %d\n", iters*count)
	fmt.Fprintf(&b, "beaconify_affinity_iterations_count %d\n", count)
	return b.String()
}

// TestCollector_RegistryAndPublish tests the refresh and publish counters.
func TestCollector_RegistryAndPublish(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveRegistryRefresh(42, nil)
	c.ObserveRegistryRefresh(0, errors.New("timeout"))
	c.ObservePublish(nil)
	c.ObservePublish(nil)
	c.ObservePublish(errors.New("broker down"))

	assert.Equal(t, 42.0, testutil.ToFloat64(c.registryEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.registryRefreshes.WithLabelValues("error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.publishes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.publishes.WithLabelValues("error")))
}

// TestServer_StartStop tests serving and shutting down the metrics endpoint.
func TestServer_StartStop(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.ObservePublish(nil)

	s := NewServer("127.0.0.1:0", reg, zerolog.Nop())
	require.NoError(t, s.Start())
	assert.EqualError(t, s.Start(), "metrics server is already running")

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `beaconify_location_publishes_total{result="ok"} 1`)

	resp, err = http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	assert.EqualError(t, s.Stop(), "metrics server is not running")
	assert.Empty(t, s.Addr())
}
