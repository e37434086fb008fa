// Package metrics exposes Prometheus counters for the challenge engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "challenger"

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing, so components can take one optionally.
type Metrics struct {
	gatherer prometheus.Gatherer

	PriceRefreshes  *prometheus.CounterVec
	QuotesFetched   prometheus.Counter
	SyntheticQuotes prometheus.Counter

	WatchdogEvaluations *prometheus.CounterVec
	Liquidations        prometheus.Counter
	PositionsClosed     *prometheus.CounterVec

	TradesPlaced   prometheus.Counter
	TradesRejected *prometheus.CounterVec
}

// New registers all collectors on reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,

		PriceRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "refreshes_total",
			Help:      "Price cache refresh cycles by result (ok, partial, error).",
		}, []string{"result"}),
		QuotesFetched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "quotes_fetched_total",
			Help:      "Quotes written to the cache from market data feeds.",
		}),
		SyntheticQuotes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "prices",
			Name:      "synthetic_quotes_total",
			Help:      "Quotes synthesized because no fresh market data was cached.",
		}),

		WatchdogEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "evaluations_total",
			Help:      "Watchdog executions by outcome.",
		}, []string{"outcome"}),
		Liquidations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "liquidations_total",
			Help:      "Challenges failed with forced liquidation.",
		}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watchdog",
			Name:      "positions_closed_total",
			Help:      "Positions closed by the system, by reason.",
		}, []string{"reason"}),

		TradesPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "desk",
			Name:      "trades_placed_total",
			Help:      "User trades accepted.",
		}),
		TradesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "desk",
			Name:      "trades_rejected_total",
			Help:      "User trades rejected, by reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) PriceRefresh(result string, fetched int) {
	if m == nil {
		return
	}
	m.PriceRefreshes.WithLabelValues(result).Inc()
	m.QuotesFetched.Add(float64(fetched))
}

func (m *Metrics) Synthetic() {
	if m == nil {
		return
	}
	m.SyntheticQuotes.Inc()
}

func (m *Metrics) Evaluation(outcome string) {
	if m == nil {
		return
	}
	m.WatchdogEvaluations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Liquidated(closed int) {
	if m == nil {
		return
	}
	m.Liquidations.Inc()
	m.PositionsClosed.WithLabelValues("liquidation").Add(float64(closed))
}

func (m *Metrics) ClosedAll(closed int) {
	if m == nil {
		return
	}
	m.PositionsClosed.WithLabelValues("close_all").Add(float64(closed))
}

func (m *Metrics) TradePlaced() {
	if m == nil {
		return
	}
	m.TradesPlaced.Inc()
}

func (m *Metrics) TradeRejected(reason string) {
	if m == nil {
		return
	}
	m.TradesRejected.WithLabelValues(reason).Inc()
}
