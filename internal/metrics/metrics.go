package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	mutationsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterok",
			Name:      "mutations_enqueued_total",
			Help:      "Mutations appended to the offline queue, by kind.",
		},
		[]string{"kind"},
	)

	syncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "masterok",
			Name:      "sync_results_total",
			Help:      "Per-mutation sync outcomes, by status.",
		},
		[]string{"status"},
	)

	drainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "masterok",
			Name:      "drain_duration_seconds",
			Help:      "Duration of full queue drain passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pendingMutations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "masterok",
			Name:      "pending_mutations",
			Help:      "Current offline queue depth.",
		},
	)

	connectivityState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "masterok",
			Name:      "online",
			Help:      "Committed connectivity state (1 online, 0 offline).",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(mutationsEnqueued, syncResults, drainDuration, pendingMutations, connectivityState)
	})
}

// IncEnqueued counts a mutation added to the queue.
func IncEnqueued(kind string) {
	mutationsEnqueued.WithLabelValues(kind).Inc()
}

// IncSyncResult counts one mutation outcome from a drain pass.
func IncSyncResult(status string) {
	syncResults.WithLabelValues(status).Inc()
}

// ObserveDrain records the duration of a drain pass in seconds.
func ObserveDrain(seconds float64) {
	drainDuration.Observe(seconds)
}

// SetPending updates the queue depth gauge.
func SetPending(count int) {
	pendingMutations.Set(float64(count))
}

// SetOnline updates the connectivity gauge.
func SetOnline(online bool) {
	if online {
		connectivityState.Set(1)
		return
	}
	connectivityState.Set(0)
}
