// Package metrics holds the Prometheus collectors of the compositor.
//
// Collectors are package-level and always updated; Register exposes them on
// any number of registerers.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const subsystem = "compositor"

// Composite kinds.
const (
	KindVsync  = "vsync"
	KindForced = "forced"
	KindAsap   = "asap"
)

// Skip reasons.
const (
	SkipPaused   = "paused"
	SkipNoRoot   = "no_root"
	SkipNotReady = "not_ready"
	SkipNoWork   = "no_work"
)

var (
	composites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "composites_total",
			Help:      "Count of composites run, by how they were triggered.",
		},
		[]string{"kind"},
	)
	compositesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "composites_skipped_total",
			Help:      "Count of composite attempts that did not render a frame.",
		},
		[]string{"reason"},
	)
	vsyncUnobserved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "vsync_unobserved_total",
			Help:      "Count of times a scheduler stopped observing vsync after idle ticks.",
		},
	)
	compositeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "composite_duration_seconds",
			Help:      "Time spent compositing one frame.",
			Buckets:   []float64{0.0005, 0.001, 0.002, 0.004, 0.008, 0.016, 0.033, 0.066, 0.1, 0.25},
		},
	)
	frameRoundtrip = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Subsystem: subsystem,
			Name:      "frame_roundtrip_seconds",
			Help:      "Time from a content paint start to the end of the composite showing it.",
			Buckets:   prometheus.ExponentialBuckets(0.004, 2, 10),
		},
	)
	hiddenTreesEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: subsystem,
			Name:      "hidden_trees_evicted_total",
			Help:      "Count of hidden layer trees whose cached resources were evicted.",
		},
	)
	layerTrees = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Subsystem: subsystem,
			Name:      "layer_trees",
			Help:      "Number of registered layer trees.",
		},
	)
)

// Register registers all collectors with reg. Registering with the same
// registerer again is a no-op.
func Register(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		composites,
		compositesSkipped,
		vsyncUnobserved,
		compositeDuration,
		frameRoundtrip,
		hiddenTreesEvicted,
		layerTrees,
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// RecordComposite records a composite of the given kind that took d.
func RecordComposite(kind string, d time.Duration) {
	composites.WithLabelValues(kind).Inc()
	compositeDuration.Observe(d.Seconds())
}

// RecordSkipped records a composite attempt that rendered nothing.
func RecordSkipped(reason string) {
	compositesSkipped.WithLabelValues(reason).Inc()
}

// RecordVsyncUnobserved records a scheduler unsubscribing from vsync.
func RecordVsyncUnobserved() {
	vsyncUnobserved.Inc()
}

// RecordFrameRoundtrip records the time from paintStart to end. Zero
// paint start times are ignored.
func RecordFrameRoundtrip(paintStart, end time.Time) {
	if paintStart.IsZero() || end.Before(paintStart) {
		return
	}
	frameRoundtrip.Observe(end.Sub(paintStart).Seconds())
}

// RecordEviction records one hidden tree eviction.
func RecordEviction() {
	hiddenTreesEvicted.Inc()
}

// SetLayerTrees sets the number of registered layer trees.
func SetLayerTrees(n int) {
	layerTrees.Set(float64(n))
}
