package resetd

import "sync/atomic"

// MetricID indexes one workflow counter.
type MetricID uint16

const (
	// MetricResetRequest counts accepted reset requests, including the
	// enumeration-safe unknown-identifier outcomes.
	MetricResetRequest MetricID = iota
	// MetricResetRequestRateLimited counts throttled reset requests.
	MetricResetRequestRateLimited
	// MetricOTPVerifySuccess counts OTP checks that issued a confirm token.
	MetricOTPVerifySuccess
	// MetricOTPVerifyFailure counts OTP mismatches.
	MetricOTPVerifyFailure
	// MetricOTPAttemptsExceeded counts sessions burned by exhausting the
	// OTP attempt budget.
	MetricOTPAttemptsExceeded
	// MetricConfirmSuccess counts committed credential changes.
	MetricConfirmSuccess
	// MetricConfirmFailure counts rejected confirm calls.
	MetricConfirmFailure
	// MetricResetCancelled counts cancelled sessions.
	MetricResetCancelled
	metricIDCount
)

const cacheLineSize = 64

// paddedCounter keeps each counter on its own cache line so hot
// concurrent increments do not false-share.
type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// MetricsConfig controls the in-process counter set.
type MetricsConfig struct {
	Enabled bool
}

// Metrics is the engine's in-process counter set. All methods are safe
// for concurrent use; a nil or disabled Metrics is inert.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// MetricsSnapshot is a point-in-time copy of every counter.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
