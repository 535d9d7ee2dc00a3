package services

import (
	"sync"
	"time"
)

// SettlementMetricsSnapshot is a point-in-time copy of the settlement counters.
type SettlementMetricsSnapshot struct {
	Submitted       int64     `json:"submitted"`
	Replayed        int64     `json:"replayed"`
	Rejected        int64     `json:"rejected"`
	Conflicts       int64     `json:"conflicts"`
	StoreFailures   int64     `json:"store_failures"`
	Violations      int64     `json:"invariant_violations"`
	SessionsClosed  int64     `json:"sessions_closed"`
	SettledAmount   int64     `json:"settled_amount"`
	AvgSubmitMillis int64     `json:"avg_submit_ms"`
	LastSubmitAt    time.Time `json:"last_submit_at,omitempty"`
}

// SettlementMetrics counts submit outcomes.
type SettlementMetrics struct {
	mutex        sync.Mutex
	metrics      SettlementMetricsSnapshot
	totalElapsed time.Duration
	timed        int64
}

func NewSettlementMetrics() *SettlementMetrics {
	return &SettlementMetrics{}
}

// RecordSubmitted counts an appended payment and its latency.
func (m *SettlementMetrics) RecordSubmitted(amount int64, elapsed time.Duration, closed bool) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.metrics.Submitted++
	m.metrics.SettledAmount += amount
	if closed {
		m.metrics.SessionsClosed++
	}
	m.metrics.LastSubmitAt = time.Now()
	m.totalElapsed += elapsed
	m.timed++
	m.metrics.AvgSubmitMillis = (m.totalElapsed / time.Duration(m.timed)).Milliseconds()
}

func (m *SettlementMetrics) RecordReplayed() {
	m.inc(func(s *SettlementMetricsSnapshot) { s.Replayed++ })
}

func (m *SettlementMetrics) RecordRejected() {
	m.inc(func(s *SettlementMetricsSnapshot) { s.Rejected++ })
}

func (m *SettlementMetrics) RecordConflict() {
	m.inc(func(s *SettlementMetricsSnapshot) { s.Conflicts++ })
}

func (m *SettlementMetrics) RecordStoreFailure() {
	m.inc(func(s *SettlementMetricsSnapshot) { s.StoreFailures++ })
}

func (m *SettlementMetrics) RecordViolation() {
	m.inc(func(s *SettlementMetricsSnapshot) { s.Violations++ })
}

// GetMetrics returns the current counters.
func (m *SettlementMetrics) GetMetrics() SettlementMetricsSnapshot {
	if m == nil {
		return SettlementMetricsSnapshot{}
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.metrics
}

func (m *SettlementMetrics) inc(fn func(*SettlementMetricsSnapshot)) {
	if m == nil {
		return
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fn(&m.metrics)
}
