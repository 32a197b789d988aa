package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Quote results
const (
	QuoteCacheHit = "hit"
	QuoteFetched  = "fetched"
	QuoteNotFound = "not_found"
)

// Scan outcomes
const (
	ScanCompleted = "completed"
	ScanTimedOut  = "timed_out"
	ScanDropped   = "dropped"
)

// Task results
const (
	TaskSettled   = "settled"
	TaskAbandoned = "abandoned"
	TaskPanicked  = "panicked"
)

// Execution outcomes
const (
	ExecutionSucceeded        = "succeeded"
	ExecutionFailed           = "failed"
	ExecutionSimulationFailed = "simulation_failed"
	ExecutionDropped          = "dropped"
)

// EngineMetrics groups every collector the engine exports. All methods are
// safe on a nil receiver so components can run without metrics.
type EngineMetrics struct {
	Scans          *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	Tasks          *prometheus.CounterVec
	Quotes         *prometheus.CounterVec
	Opportunities  prometheus.Counter
	Executions     *prometheus.CounterVec
	RealizedProfit prometheus.Gauge
	Nonce          prometheus.Gauge
	GasPrice       prometheus.Gauge
}

// NewEngineMetrics registers the engine collectors on reg
func NewEngineMetrics(reg prometheus.Registerer, namespace string) *EngineMetrics {
	factory := promauto.With(reg)
	return &EngineMetrics{
		Scans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Scan cycles by outcome",
		}, []string{"outcome"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall clock duration of scan cycles",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		Tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_tasks_total",
			Help:      "Per pair and size scan tasks by result",
		}, []string{"result"}),
		Quotes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quote requests by venue and result",
		}, []string{"venue", "result"}),
		Opportunities: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opportunities_total",
			Help:      "Opportunities that passed the profitability gate",
		}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Execution attempts by outcome",
		}, []string{"outcome"}),
		RealizedProfit: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "realized_profit",
			Help:      "Cumulative realized profit in base token units",
		}),
		Nonce: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nonce",
			Help:      "Next nonce held by the execution coordinator",
		}),
		GasPrice: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gas_price_gwei",
			Help:      "Cached gas price in gwei",
		}),
	}
}

func (m *EngineMetrics) ObserveQuote(venue, result string) {
	if m == nil {
		return
	}
	m.Quotes.WithLabelValues(venue, result).Inc()
}

func (m *EngineMetrics) ObserveScan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Scans.WithLabelValues(outcome).Inc()
	if outcome != ScanDropped {
		m.ScanDuration.Observe(d.Seconds())
	}
}

func (m *EngineMetrics) ObserveTask(result string) {
	if m == nil {
		return
	}
	m.Tasks.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveOpportunities(n int) {
	if m == nil {
		return
	}
	m.Opportunities.Add(float64(n))
}

func (m *EngineMetrics) ObserveExecution(outcome string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(outcome).Inc()
}

func (m *EngineMetrics) SetRealizedProfit(v float64) {
	if m == nil {
		return
	}
	m.RealizedProfit.Set(v)
}

func (m *EngineMetrics) SetNonce(n uint64) {
	if m == nil {
		return
	}
	m.Nonce.Set(float64(n))
}

func (m *EngineMetrics) SetGasPriceGwei(v float64) {
	if m == nil {
		return
	}
	m.GasPrice.Set(v)
}

// QuoteHitRatio is the share of quote requests served from cache
func (m *EngineMetrics) QuoteHitRatio() float64 {
	if m == nil {
		return 0
	}
	var hits, total float64
	for label, v := range CounterVecValues(m.Quotes, "result") {
		total += v
		if label == QuoteCacheHit {
			hits += v
		}
	}
	if total == 0 {
		return 0
	}
	return hits / total
}

// CounterVecValues sums a counter vector grouped by one label
func CounterVecValues(vec *prometheus.CounterVec, label string) map[string]float64 {
	out := make(map[string]float64)
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	for metric := range ch {
		m := &dto.Metric{}
		if err := metric.Write(m); err != nil || m.Counter == nil {
			continue
		}
		for _, lp := range m.Label {
			if lp.GetName() == label {
				out[lp.GetValue()] += m.Counter.GetValue()
			}
		}
	}
	return out
}
