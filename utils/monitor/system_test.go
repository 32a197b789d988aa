package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestSystemMonitor(t *testing.T) {
	reg := prometheus.NewRegistry()
	mon, err := NewSystemMonitor(reg, "arb", time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	mon.Start(ctx)

	// the first sample is taken synchronously
	s := mon.Last()
	assert.Greater(t, s.Goroutines, 0)
	assert.Greater(t, s.HeapAlloc, uint64(0))
	assert.Equal(t, float64(s.Goroutines), testutil.ToFloat64(mon.metrics.goroutines))

	assert.Greater(t, s.HeapObjects, uint64(0))

	mon.LogSnapshot()
	cancel()
	mon.Wait()

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestSystemMonitorDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewSystemMonitor(reg, "arb", 0, zap.NewNop())
	require.NoError(t, err)

	_, err = NewSystemMonitor(reg, "arb", 0, zap.NewNop())
	assert.Error(t, err)
}

func BenchmarkCollect(b *testing.B) {
	mon, err := NewSystemMonitor(prometheus.NewRegistry(), "bench", 0, zap.NewNop())
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mon.collect()
	}
}
