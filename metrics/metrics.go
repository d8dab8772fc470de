// Package metrics exposes Prometheus collectors for the trading loop.
// Collectors are package-level and registered via promauto; the api
// package serves them on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perp_agent"

var CyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cycles_total",
	Help:      "Completed trading cycles",
})

var CycleErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cycle_errors_total",
	Help:      "Trading cycles that ended in an error",
})

var DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "decisions_total",
	Help:      "Decisions by signal and execution status",
}, []string{"signal", "status"})

var RiskRejections = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "risk_rejections_total",
	Help:      "Decisions rejected by the risk gate",
})

var LLMErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "llm_errors_total",
	Help:      "Model calls that failed after retries",
})

var Balance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "balance_usd",
	Help:      "Available account balance in USD",
})

var Equity = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "equity_usd",
	Help:      "Account equity in USD",
})

var OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "open_positions",
	Help:      "Number of open positions",
})

var CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "cycle_duration_seconds",
	Help:      "Wall time of one full trading cycle",
	Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120},
})

var LLMDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "llm_duration_seconds",
	Help:      "Wall time of one model call including retries",
	Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
})

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
