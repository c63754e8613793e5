package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_turns_total",
			Help: "Total number of chat turns by outcome.",
		},
		[]string{"outcome"},
	)
	turnWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_turn_warnings_total",
			Help: "Total number of degraded turn stages by warning code.",
		},
		[]string{"code"},
	)
	agentLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_agent_latency_seconds",
			Help:    "Latency of language model calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
	queryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_query_latency_seconds",
			Help:    "Latency of generated SQL executions.",
			Buckets: prometheus.DefBuckets,
		},
	)
	poolOpensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pool_opens_total",
			Help: "Total number of database handles opened by the connection pool.",
		},
		[]string{"driver"},
	)
)

func init() {
	prometheus.MustRegister(
		turnsTotal,
		turnWarningsTotal,
		agentLatencySeconds,
		queryLatencySeconds,
		poolOpensTotal,
	)
}

func ObserveTurn(outcome string, warningCodes []string) {
	turnsTotal.WithLabelValues(outcome).Inc()
	for _, code := range warningCodes {
		turnWarningsTotal.WithLabelValues(code).Inc()
	}
}

func ObserveAgentLatency(elapsed time.Duration) {
	agentLatencySeconds.Observe(elapsed.Seconds())
}

func ObserveQueryLatency(elapsed time.Duration) {
	queryLatencySeconds.Observe(elapsed.Seconds())
}

func IncrementPoolOpens(driver string) {
	poolOpensTotal.WithLabelValues(driver).Inc()
}
