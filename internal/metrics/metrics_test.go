package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncAndValue(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricRefreshReuseDetected)

	assert.Equal(t, uint64(2), m.Value(MetricLoginSuccess))
	assert.Equal(t, uint64(1), m.Value(MetricRefreshReuseDetected))
	assert.Equal(t, uint64(0), m.Value(MetricLogout))
}

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := New(Config{Enabled: false})
	m.Inc(MetricLoginSuccess)
	assert.Equal(t, uint64(0), m.Value(MetricLoginSuccess))

	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)
	assert.Equal(t, uint64(0), nilMetrics.Value(MetricLoginSuccess))
}

func TestSnapshotCoversAllCounters(t *testing.T) {
	m := New(Config{Enabled: true})
	m.Inc(MetricOTPIssued)

	snap := m.Snapshot()
	assert.Len(t, snap.Counters, int(MetricIDCount))
	assert.Equal(t, uint64(1), snap.Counters[MetricOTPIssued])
}

func TestConcurrentInc(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				m.Inc(MetricSessionCreated)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8000), m.Value(MetricSessionCreated))
}
