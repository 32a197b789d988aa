package monitor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Snapshot is one sample of the process runtime
type Snapshot struct {
	Goroutines  int
	HeapObjects uint64
	HeapAlloc   uint64
	GCPause     time.Duration
	NumGC       uint32
}

// SystemMonitor samples the Go runtime so that goroutine leaks from
// abandoned scan tasks show up next to the engine metrics.
type SystemMonitor struct {
	logger   *zap.Logger
	interval time.Duration
	metrics  struct {
		goroutines  prometheus.Gauge
		heapObjects prometheus.Gauge
		heapAlloc   prometheus.Gauge
		gcPause     prometheus.Gauge
	}

	mu   sync.Mutex
	last Snapshot
	wg   sync.WaitGroup
}

// NewSystemMonitor registers the runtime gauges on reg
func NewSystemMonitor(reg prometheus.Registerer, namespace string, interval time.Duration, logger *zap.Logger) (*SystemMonitor, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	m := &SystemMonitor{
		logger:   logger.Named("monitor"),
		interval: interval,
	}

	m.metrics.goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Current number of goroutines",
	})
	m.metrics.heapObjects = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_objects",
		Help:      "Current number of heap objects",
	})
	m.metrics.heapAlloc = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_alloc_bytes",
		Help:      "Current heap allocation in bytes",
	})
	m.metrics.gcPause = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gc_pause_seconds",
		Help:      "Most recent GC pause duration",
	})

	for _, c := range []prometheus.Collector{
		m.metrics.goroutines,
		m.metrics.heapObjects,
		m.metrics.heapAlloc,
		m.metrics.gcPause,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Start samples until ctx is cancelled
func (m *SystemMonitor) Start(ctx context.Context) {
	m.collect()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collect()
			}
		}
	}()
}

// Wait blocks until the sampling loop has exited
func (m *SystemMonitor) Wait() {
	m.wg.Wait()
}

func (m *SystemMonitor) collect() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapObjects: memStats.HeapObjects,
		HeapAlloc:   memStats.HeapAlloc,
		GCPause:     time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256]),
		NumGC:       memStats.NumGC,
	}

	m.metrics.goroutines.Set(float64(s.Goroutines))
	m.metrics.heapObjects.Set(float64(s.HeapObjects))
	m.metrics.heapAlloc.Set(float64(s.HeapAlloc))
	m.metrics.gcPause.Set(s.GCPause.Seconds())

	m.mu.Lock()
	m.last = s
	m.mu.Unlock()
	return s
}

// Last returns the most recent sample
func (m *SystemMonitor) Last() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// LogSnapshot writes the most recent sample
func (m *SystemMonitor) LogSnapshot() {
	s := m.Last()
	m.logger.Info("Runtime",
		zap.Int("goroutines", s.Goroutines),
		zap.Uint64("heap_objects", s.HeapObjects),
		zap.Uint64("heap_alloc", s.HeapAlloc),
		zap.Duration("gc_pause", s.GCPause))
}
