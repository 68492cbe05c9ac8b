package syncengine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics captures low-cardinality counters for the sync loop. All
// methods are nil-safe so tests can run without a registry.
type SyncMetrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	pushBatchSize prometheus.Histogram
	outboxBacklog *prometheus.GaugeVec
	entriesFailed prometheus.Counter
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

func Metrics() *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer)
	})
	return syncMetrics
}

func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncbox_sync_cycles_total",
			Help: "Total sync cycles by result.",
		},
		[]string{"result"}, // success | error | skipped
	)

	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncbox_sync_cycle_duration_seconds",
			Help:    "Wall time of a full push+pull cycle.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	pushBatchSize := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncbox_sync_push_batch_size",
			Help:    "Number of outbox entries per push batch.",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	outboxBacklog := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncbox_outbox_backlog_total",
			Help: "Outbox entries awaiting delivery by state.",
		},
		[]string{"state"},
	)

	entriesFailed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "syncbox_outbox_entries_failed_total",
			Help: "Entries parked after exhausting their retry budget.",
		},
	)

	registerer.MustRegister(cycles, cycleDuration, pushBatchSize, outboxBacklog, entriesFailed)

	return &SyncMetrics{
		cycles:        cycles,
		cycleDuration: cycleDuration,
		pushBatchSize: pushBatchSize,
		outboxBacklog: outboxBacklog,
		entriesFailed: entriesFailed,
	}
}

func (m *SyncMetrics) ObserveCycle(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *SyncMetrics) ObservePushBatch(size int) {
	if m == nil {
		return
	}
	m.pushBatchSize.Observe(float64(size))
}

func (m *SyncMetrics) SetBacklog(state string, value int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.WithLabelValues(state).Set(float64(value))
}

func (m *SyncMetrics) IncEntriesFailed() {
	if m == nil {
		return
	}
	m.entriesFailed.Inc()
}
