package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rootCircle/Beaconify/internal/constants"
	"github.com/rootCircle/Beaconify/pkg/positioning"
)

const namespace = "beaconify"

// Recorder receives the measurements taken by the services.
type Recorder interface {
	ObserveCycle(status constants.UpdateStatus, liveBeacons int, took time.Duration, stats positioning.Stats)
	ObserveRegistryRefresh(entries int, err error)
	ObservePublish(err error)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) ObserveCycle(constants.UpdateStatus, int, time.Duration, positioning.Stats) {}
func (Nop) ObserveRegistryRefresh(int, error)                                          {}
func (Nop) ObservePublish(error)                                                       {}

// Collector records location pipeline metrics into a Prometheus registry.
type Collector struct {
	cycles            *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
	liveBeacons       prometheus.Gauge
	fingerprints      prometheus.Gauge
	smoothingEntries  prometheus.Gauge
	affinityIters     prometheus.Histogram
	registryEntries   prometheus.Gauge
	registryRefreshes *prometheus.CounterVec
	publishes         *prometheus.CounterVec

	mu          sync.Mutex
	clusterings uint64
}

// NewCollector creates the collectors and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_cycles_total",
			Help:      "Location cycles processed, by outcome",
		}, []string{"status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimation_duration_seconds",
			Help:      "Time spent estimating a position per cycle",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		liveBeacons: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_beacons",
			Help:      "Beacons in the observation cache after the last cycle",
		}),
		fingerprints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fingerprints",
			Help:      "Fingerprints held by the estimator",
		}),
		smoothingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "smoothing_entries",
			Help:      "Beacons with RSSI smoothing state",
		}),
		affinityIters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "affinity_iterations",
			Help:      "Affinity propagation iterations per refinement",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		registryEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_beacons",
			Help:      "Active beacons in the registry snapshot",
		}),
		registryRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_refreshes_total",
			Help:      "Registry fetch attempts, by result",
		}, []string{"result"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_publishes_total",
			Help:      "Location messages published, by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.cycles,
		c.cycleDuration,
		c.liveBeacons,
		c.fingerprints,
		c.smoothingEntries,
		c.affinityIters,
		c.registryEntries,
		c.registryRefreshes,
		c.publishes,
	)
	return c
}

// ObserveCycle implements Recorder.
func (c *Collector) ObserveCycle(status constants.UpdateStatus, liveBeacons int, took time.Duration, stats positioning.Stats) {
	c.cycles.WithLabelValues(string(status)).Inc()
	c.cycleDuration.Observe(took.Seconds())
	c.liveBeacons.Set(float64(liveBeacons))
	c.fingerprints.Set(float64(stats.Fingerprints))
	c.smoothingEntries.Set(float64(stats.SmoothingEntries))
	c.observeClustering(stats)
}

// observeClustering records iterations only for cycles that clustered.
func (c *Collector) observeClustering(stats positioning.Stats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stats.Clusterings == c.clusterings {
		return
	}
	c.clusterings = stats.Clusterings
	c.affinityIters.Observe(float64(stats.LastIterations))
}

// ObserveRegistryRefresh implements Recorder.
func (c *Collector) ObserveRegistryRefresh(entries int, err error) {
	if err != nil {
		c.registryRefreshes.WithLabelValues("error").Inc()
		return
	}
	c.registryRefreshes.WithLabelValues("ok").Inc()
	c.registryEntries.Set(float64(entries))
}

// ObservePublish implements Recorder.
func (c *Collector) ObservePublish(err error) {
	if err != nil {
		c.publishes.WithLabelValues("error").Inc()
		return
	}
	c.publishes.WithLabelValues("ok").Inc()
}
