package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects pipeline counters on a private registry so the status
// endpoint can expose exactly this set and nothing else.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal   prometheus.Counter
	TicksSkipped prometheus.Counter
	TicksFailed  prometheus.Counter
	TickDuration prometheus.Histogram

	ProviderCalls   *prometheus.CounterVec
	ProviderErrors  *prometheus.CounterVec
	ProviderLimited *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec

	FixturesUpserted  prometheus.Counter
	PredictionsTotal  prometheus.Counter
	SignalsTotal      *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	LedgerConflicts   prometheus.Counter
	ComponentErrors   *prometheus.CounterVec
	RiskStateGauge    *prometheus.GaugeVec
	BankrollBalance   prometheus.Gauge
	DrawdownFraction  prometheus.Gauge
	ConsecutiveLosses prometheus.Gauge
}

// NewMetrics creates the metric set on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ticks_total",
			Help: "Total number of scheduler ticks started",
		}),
		TicksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ticks_skipped_total",
			Help: "Ticks skipped because the tick lease was held",
		}),
		TicksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ticks_failed_total",
			Help: "Ticks that ended with an error",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_tick_duration_seconds",
			Help:    "Wall time per tick",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Upstream provider calls by endpoint",
		}, []string{"endpoint"}),
		ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_errors_total",
			Help: "Upstream provider errors by endpoint and kind",
		}, []string{"endpoint", "kind"}),
		ProviderLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_rate_limited_total",
			Help: "Upstream 429 responses by endpoint",
		}, []string{"endpoint"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "provider_latency_seconds",
			Help:    "Upstream call latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		FixturesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fixtures_upserted_total",
			Help: "Fixtures created or updated from upstream",
		}),
		PredictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Predictions generated",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signals_total",
			Help: "Signals by status",
		}, []string{"status"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deliveries_total",
			Help: "Delivery attempts by outcome",
		}, []string{"outcome"}),
		LedgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_conflicts_total",
			Help: "Optimistic-concurrency conflicts on ledger appends",
		}),
		ComponentErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "component_errors_total",
			Help: "Errors by component",
		}, []string{"component"}),
		RiskStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "risk_state",
			Help: "Current risk state machine position (1 for the active state)",
		}, []string{"state"}),
		BankrollBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bankroll_balance",
			Help: "Current bankroll balance",
		}),
		DrawdownFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drawdown_fraction",
			Help: "Current drawdown as a fraction of peak balance",
		}),
		ConsecutiveLosses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "consecutive_losses",
			Help: "Consecutive losing signals",
		}),
	}

	registry.MustRegister(
		m.TicksTotal, m.TicksSkipped, m.TicksFailed, m.TickDuration,
		m.ProviderCalls, m.ProviderErrors, m.ProviderLimited, m.ProviderLatency,
		m.FixturesUpserted, m.PredictionsTotal, m.SignalsTotal, m.DeliveriesTotal,
		m.LedgerConflicts, m.ComponentErrors, m.RiskStateGauge,
		m.BankrollBalance, m.DrawdownFraction, m.ConsecutiveLosses,
	)
	return m
}

// Registry exposes the private registry for the /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall records one upstream provider call
func (m *Metrics) ObserveCall(endpoint string, latency time.Duration) {
	m.ProviderCalls.WithLabelValues(endpoint).Inc()
	m.ProviderLatency.WithLabelValues(endpoint).Observe(latency.Seconds())
}

// ObserveError records one upstream provider failure
func (m *Metrics) ObserveError(endpoint string, rateLimited, transient bool) {
	kind := "permanent"
	if transient {
		kind = "transient"
	}
	m.ProviderErrors.WithLabelValues(endpoint, kind).Inc()
	if rateLimited {
		m.ProviderLimited.WithLabelValues(endpoint).Inc()
	}
}

// SetRiskState flips the risk_state gauge to the given state
func (m *Metrics) SetRiskState(state string) {
	for _, s := range []string{"normal", "warning", "halted"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.RiskStateGauge.WithLabelValues(s).Set(v)
	}
}
