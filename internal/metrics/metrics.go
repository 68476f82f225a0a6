package metrics

import "sync/atomic"

// MetricID identifies one counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricTwoFactorRequired
	MetricTwoFactorFailure
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricLogoutAll
	MetricOTPIssued
	MetricOTPVerified
	MetricOTPFailed
	MetricOTPExhausted
	MetricOTPChannelFailure
	MetricRecoveryCodeUsed
	MetricOAuthLoginNew
	MetricOAuthLoginExisting
	MetricOAuthConflict
	MetricPasswordResetRequest
	MetricPasswordResetDone

	MetricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds the counter slots. A nil or disabled Metrics is a no-op.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]paddedCounter
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

type Config struct {
	Enabled bool
}

func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{Counters: make(map[MetricID]uint64, int(MetricIDCount))}
	if m == nil || !m.enabled {
		return s
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
