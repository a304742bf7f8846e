package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ordersPlaced   atomic.Uint64
	ordersRejected atomic.Uint64
	ordersSettled  atomic.Uint64
	batchesSettled atomic.Uint64
	notifyFailures atomic.Uint64
	errorsTotal    atomic.Uint64

	// Admission latency
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	feedSubscribers atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordOrderPlaced records a committed admission with its latency.
func (m *Metrics) RecordOrderPlaced(latency time.Duration) {
	m.ordersPlaced.Add(1)
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordOrderRejected records an admission refused for a caller error.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordBatchSettled records a committed settlement batch of n orders.
func (m *Metrics) RecordBatchSettled(n int) {
	m.batchesSettled.Add(1)
	m.ordersSettled.Add(uint64(n))
}

// RecordNotifyFailure records a failed exchange notification.
func (m *Metrics) RecordNotifyFailure() {
	m.notifyFailures.Add(1)
}

// RecordError records an unexpected error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementSubscribers increments settlement feed subscribers by 1.
func (m *Metrics) IncrementSubscribers() {
	m.feedSubscribers.Add(1)
}

// DecrementSubscribers decrements settlement feed subscribers by 1.
func (m *Metrics) DecrementSubscribers() {
	m.feedSubscribers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	OrdersPlaced    uint64    `json:"orders_placed"`
	OrdersRejected  uint64    `json:"orders_rejected"`
	OrdersSettled   uint64    `json:"orders_settled"`
	BatchesSettled  uint64    `json:"batches_settled"`
	NotifyFailures  uint64    `json:"notify_failures"`
	ErrorsTotal     uint64    `json:"errors_total"`
	AvgLatencyNs    int64     `json:"avg_admission_latency_ns"`
	FeedSubscribers int32     `json:"feed_subscribers"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		OrdersPlaced:    m.ordersPlaced.Load(),
		OrdersRejected:  m.ordersRejected.Load(),
		OrdersSettled:   m.ordersSettled.Load(),
		BatchesSettled:  m.batchesSettled.Load(),
		NotifyFailures:  m.notifyFailures.Load(),
		ErrorsTotal:     m.errorsTotal.Load(),
		AvgLatencyNs:    avgLatency,
		FeedSubscribers: m.feedSubscribers.Load(),
		Timestamp:       time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ordersPlaced.Store(0)
	m.ordersRejected.Store(0)
	m.ordersSettled.Store(0)
	m.batchesSettled.Store(0)
	m.notifyFailures.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.feedSubscribers.Store(0)
}
