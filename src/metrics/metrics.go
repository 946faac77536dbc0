// Package metrics exposes the executor's Prometheus series:
//   - exit_plan_transitions_total{strategy,state}
//   - exit_plans_active{strategy}
//   - exit_plan_placements_total{strategy,result}
//   - broker_calls_total{op,result}
//   - broker_call_duration_seconds{op}
//
// Series are registered in init() and served on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exit_plan_transitions_total",
			Help: "Exit plan state transitions by strategy and target state",
		},
		[]string{"strategy", "state"},
	)

	mtxActivePlans = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "exit_plans_active",
			Help: "Registered exit plans that are not terminal yet",
		},
		[]string{"strategy"},
	)

	mtxPlacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exit_plan_placements_total",
			Help: "Closing order placements by strategy and result (ok|rejected|partial|transient)",
		},
		[]string{"strategy", "result"},
	)

	mtxBrokerCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_calls_total",
			Help: "Broker gateway calls by operation and result",
		},
		[]string{"op", "result"},
	)

	mtxBrokerLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_call_duration_seconds",
			Help:    "Broker gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(mtxTransitions, mtxActivePlans, mtxPlacements, mtxBrokerCalls, mtxBrokerLatency)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveTransition(strategy, state string) {
	mtxTransitions.WithLabelValues(strategy, state).Inc()
}

func SetActivePlans(strategy string, n int) {
	mtxActivePlans.WithLabelValues(strategy).Set(float64(n))
}

func ObservePlacement(strategy, result string) {
	mtxPlacements.WithLabelValues(strategy, result).Inc()
}

func ObserveBrokerCall(op string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	mtxBrokerCalls.WithLabelValues(op, result).Inc()
	mtxBrokerLatency.WithLabelValues(op).Observe(took.Seconds())
}
