package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlagent_http_requests_total",
			Help: "Total number of HTTP requests by matched route.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sqlagent_http_request_duration_seconds",
			Help: "HTTP request latency by matched route.",
			// /v1/ask holds the request open for a whole invocation.
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	httpInFlightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sqlagent_http_in_flight_requests",
		Help: "HTTP requests currently being served, including running invocations.",
	})
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDurationSeconds, httpInFlightRequests)
}
