package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_invocations_total",
			Help: "Total number of agent invocations by terminal status.",
		},
		[]string{"status"},
	)
	invocationIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlagent_invocation_iterations",
			Help:    "Iterations consumed per agent invocation.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
		},
	)
	modelCallDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_model_call_duration_seconds",
			Help:    "Model completion latency by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlagent_query_duration_seconds",
			Help:    "Latency of model-issued SQL statements by outcome.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	malformedActionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlagent_malformed_actions_total",
			Help: "Total number of model completions that did not match the action grammar.",
		},
	)
	historyWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_history_write_failures_total",
			Help: "Total number of failed invocation history writes by sink.",
		},
		[]string{"sink"},
	)
)

func init() {
	prometheus.MustRegister(
		invocationsTotal,
		invocationIterations,
		modelCallDurationSeconds,
		queryDurationSeconds,
		malformedActionsTotal,
		historyWriteFailuresTotal,
	)
}

func ObserveInvocation(status string, iterations int) {
	invocationsTotal.WithLabelValues(status).Inc()
	if iterations < 0 {
		iterations = 0
	}
	invocationIterations.Observe(float64(iterations))
}

func ObserveModelCall(outcome string, elapsed time.Duration) {
	modelCallDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func ObserveQuery(outcome string, elapsed time.Duration) {
	queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func IncrementMalformedAction() {
	malformedActionsTotal.Inc()
}

func IncrementHistoryWriteFailure(sink string) {
	historyWriteFailuresTotal.WithLabelValues(sink).Inc()
}
