package courierAuth

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricSignInSuccess MetricID = iota
	MetricSignInFailure
	MetricSignInRateLimited
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAReplay
	MetricMFAAttemptsExceeded
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricTOTPEnabled
	MetricTOTPDisabled
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshStale
	MetricRefreshRateLimited
	MetricDeviceRejected
	MetricSessionCreated
	MetricSessionRevoked
	MetricSessionsRevokedOthers
	MetricSecurityReset
	// MetricDurableDrift counts durable session writes abandoned after retry
	// while the ephemeral write had already succeeded.
	MetricDurableDrift
	MetricSnapshotMiss
	MetricPasskeyRegistered
	MetricPasskeyLoginSuccess
	MetricPasskeyLoginFailure
	MetricPasskeyReplay
	// Latency metrics are histogram-backed and only recorded through
	// Observe when latency histograms are enabled.
	MetricValidateLatency
	MetricRefreshLatency

	metricIDCount
)

// latencyBounds are the inclusive upper bounds of every histogram bucket but
// the last, which catches everything slower.
var latencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const (
	histBucketCount = len(latencyBounds) + 1
	cacheLineSize   = 64
)

// latencyMetrics maps each histogram-backed metric to its slot.
var latencyMetrics = [...]MetricID{MetricValidateLatency, MetricRefreshLatency}

type paddedCounter struct {
	atomic.Uint64
	_ [cacheLineSize - 8]byte
}

type latencyHistogram [histBucketCount]atomic.Uint64

// Metrics is a fixed array of cache-line padded counters plus the latency
// histograms. All methods are safe for concurrent use and nil-safe.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [len(latencyMetrics)]latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to id. It is a no-op when metrics are disabled.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram of a latency metric. Other ids are
// ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() {
		return
	}
	slot := latencySlot(id)
	if slot < 0 {
		return
	}
	m.latency[slot][bucketIndex(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter and, when enabled, the latency histograms.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		for slot, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := range buckets {
				buckets[i] = m.latency[slot][i].Load()
			}
			s.Histograms[id] = buckets
		}
	}
	return s
}

func latencySlot(id MetricID) int {
	for slot, candidate := range latencyMetrics {
		if candidate == id {
			return slot
		}
	}
	return -1
}

func bucketIndex(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d <= bound {
			return i
		}
	}
	return len(latencyBounds)
}
