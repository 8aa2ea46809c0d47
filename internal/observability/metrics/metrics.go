// Package metrics exposes Prometheus collectors for the settlement daemon.
package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	xerrors "intent-settlement/internal/errors"
	"intent-settlement/internal/intent"
)

const defaultNamespace = "intent_settlement"

// Metrics holds every collector. Each instance owns its registry so tests can
// build as many as they like.
type Metrics struct {
	registry  *prometheus.Registry
	namespace string

	// Engine
	Operations    *prometheus.CounterVec
	OperationTime *prometheus.HistogramVec
	Fills         *prometheus.CounterVec
	FilledVolume  *prometheus.CounterVec
	FeesCollected prometheus.Counter
	BatchSkips    *prometheus.CounterVec

	// HTTP
	Requests        *prometheus.CounterVec
	RequestErrors   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New registers all collectors under namespace.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = defaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	auto := promauto.With(reg)

	return &Metrics{
		registry:  reg,
		namespace: namespace,

		Operations: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result code.",
		}, []string{"operation", "code"}),
		OperationTime: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}, []string{"operation"}),
		Fills: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "fills_total",
			Help:      "Settled intents by intent type.",
		}, []string{"type"}),
		FilledVolume: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "filled_amount_out_total",
			Help:      "Sum of delivered output amounts in base units. Approximate above 2^53.",
		}, []string{"type"}),
		FeesCollected: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "protocol_fees_total",
			Help:      "Sum of protocol fees in base units. Approximate above 2^53.",
		}),
		BatchSkips: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "batch_skips_total",
			Help:      "Intents passed over during batch settlement by reason.",
		}, []string{"code"}),

		Requests: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		RequestErrors: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "HTTP requests that ended in a server error.",
		}, []string{"handler", "method"}),
		RequestDuration: auto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Operation implements settlement.Observer.
func (m *Metrics) Operation(op string, err error, elapsed time.Duration) {
	code := "OK"
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	m.Operations.WithLabelValues(op, code).Inc()
	m.OperationTime.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Filled implements settlement.Observer.
func (m *Metrics) Filled(t intent.Type, amountOut, fee *big.Int) {
	typ := t.String()
	m.Fills.WithLabelValues(typ).Inc()
	m.FilledVolume.WithLabelValues(typ).Add(toFloat(amountOut))
	m.FeesCollected.Add(toFloat(fee))
}

// Skipped implements settlement.Observer.
func (m *Metrics) Skipped(code xerrors.Code) {
	m.BatchSkips.WithLabelValues(string(code)).Inc()
}

// Gauge registers a sampled gauge such as hub subscriber count.
func (m *Metrics) Gauge(subsystem, name, help string, fn func() float64) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

// Counter registers a sampled monotonically increasing value.
func (m *Metrics) Counter(subsystem, name, help string, fn func() float64) {
	promauto.With(m.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
}

func toFloat(v *big.Int) float64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
