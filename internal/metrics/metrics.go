// Package metrics exposes Prometheus instrumentation for the settlement
// pipeline. All recording methods are nil-safe so components can run without
// metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's collectors.
type Metrics struct {
	registry *prometheus.Registry

	intentsSubmitted  prometheus.Counter
	intentsExpired    prometheus.Counter
	matchesExecuted   prometheus.Counter
	positionsClosed   prometheus.Counter
	liquidations      prometheus.Counter
	settlementsFailed prometheus.Counter
	divergences       prometheus.Counter
	feesAssessed      *prometheus.CounterVec
	rateLimited       prometheus.Counter
	openPositions     prometheus.Gauge
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		intentsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_intents_submitted_total",
			Help: "Trading intents accepted by the registry.",
		}),
		intentsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_intents_expired_total",
			Help: "Open intents swept into expired.",
		}),
		matchesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_matches_executed_total",
			Help: "Matches confirmed on the ledger.",
		}),
		positionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_positions_closed_total",
			Help: "Positions fully closed, including liquidations.",
		}),
		liquidations: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_liquidations_total",
			Help: "Forced closes triggered by the liquidation monitor.",
		}),
		settlementsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_settlements_failed_total",
			Help: "Ledger submissions that failed terminally.",
		}),
		divergences: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_reconciliation_divergences_total",
			Help: "Confirmed ledger mutations whose registry update failed.",
		}),
		feesAssessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perpdex_fees_assessed_total",
			Help: "Fee records written, by fee type.",
		}, []string{"type"}),
		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "perpdex_requests_rate_limited_total",
			Help: "Requests rejected by the admission controller.",
		}),
		openPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perpdex_open_positions",
			Help: "Positions currently open or settling.",
		}),
	}
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IntentSubmitted() {
	if m != nil {
		m.intentsSubmitted.Inc()
	}
}

func (m *Metrics) IntentsExpired(n int) {
	if m != nil && n > 0 {
		m.intentsExpired.Add(float64(n))
	}
}

func (m *Metrics) MatchExecuted() {
	if m != nil {
		m.matchesExecuted.Inc()
	}
}

func (m *Metrics) PositionClosed() {
	if m != nil {
		m.positionsClosed.Inc()
	}
}

func (m *Metrics) Liquidation() {
	if m != nil {
		m.liquidations.Inc()
	}
}

func (m *Metrics) SettlementFailed() {
	if m != nil {
		m.settlementsFailed.Inc()
	}
}

func (m *Metrics) Divergence() {
	if m != nil {
		m.divergences.Inc()
	}
}

func (m *Metrics) FeeAssessed(feeType string) {
	if m != nil {
		m.feesAssessed.WithLabelValues(feeType).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}

func (m *Metrics) SetOpenPositions(n int) {
	if m != nil {
		m.openPositions.Set(float64(n))
	}
}
