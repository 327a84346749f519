// Package metrics provides in-process observability for the connector
// using Prometheus collector types. No HTTP exporter is started and
// nothing reads these metrics back into the STATUS/LOG messages; they
// are available for a caller embedding this connector to scrape via its
// own registry, not for a
// standalone /metrics endpoint (spec.md Non-goals excludes a metrics
// backend of its own).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsProcessed tracks the total number of RECORD messages emitted.
	// Labels: stream, status (success/skipped)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_source_records_processed_total",
			Help: "Total number of records emitted per stream",
		},
		[]string{"stream", "status"},
	)

	// ProcessingLatency tracks the distribution of per-request API call
	// latencies in nanoseconds, labeled by endpoint.
	ProcessingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "klaviyo_source_request_latency_nanoseconds",
			Help: "Klaviyo API request latency in nanoseconds",
			Buckets: []float64{
				1e6, // 1ms
				1e7, // 10ms
				1e8, // 100ms
				5e8, // 500ms
				1e9, // 1s
				5e9, // 5s
				1e10, // 10s
			},
		},
		[]string{"endpoint"},
	)

	// RateLimiterReservoir tracks the remaining token count in each
	// endpoint's Rate Limiter Registry reservoir (spec.md §4.1).
	RateLimiterReservoir = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klaviyo_source_rate_limiter_reservoir",
			Help: "Remaining tokens in the per-endpoint rate limiter reservoir",
		},
		[]string{"endpoint"},
	)

	// SpoolDepth tracks the number of buffered, not-yet-consumed records
	// sitting in each shard's disk spool (spec.md §4.5).
	SpoolDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klaviyo_source_spool_depth",
			Help: "Records buffered in a shard's disk spool awaiting consumption",
		},
		[]string{"stream"},
	)

	// DedupSkipped tracks records dropped by the orchestrator's
	// cross-shard primary-key dedup window (spec.md §4.6).
	DedupSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_source_dedup_skipped_total",
			Help: "Records skipped by cross-shard primary key deduplication",
		},
		[]string{"stream"},
	)

	// CheckpointsEmitted tracks STATE messages written. Each checkpoint
	// carries the whole state map, so the Sync Driver records every one
	// under the single label value "run".
	CheckpointsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "klaviyo_source_checkpoints_emitted_total",
			Help: "STATE messages emitted",
		},
		[]string{"stream"},
	)

	// Throughput tracks records per second, updated by ThroughputTracker.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "klaviyo_source_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"stream"},
	)
)

// ThroughputTracker tracks throughput (records per second) over time
// windows for a single stream. Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Records processed since last reset
	lastReset time.Time // Time of last reset
	stream    string    // Stream name, the Throughput gauge's label
}

// NewThroughputTracker creates a new throughput tracker for a stream.
func NewThroughputTracker(streamName string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		stream:    streamName,
	}
}

// Increment adds n to the record count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the current throughput (records/second),
// updates the Prometheus metric, resets the counter, and returns
// the calculated throughput. Safe for concurrent use.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	// Reset for next period
	t.count = 0
	t.lastReset = time.Now()

	// Update Prometheus metric
	Throughput.WithLabelValues(t.stream).Set(throughput)

	return throughput
}
