package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "managecommand",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"component", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "managecommand",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"component", "method", "path", "status"},
	)
	agentHeartbeats = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "managecommand",
			Subsystem: "agent",
			Name:      "heartbeats_total",
			Help:      "Heartbeats received per agent.",
		},
		[]string{"agent"},
	)
	executionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "managecommand",
			Subsystem: "executions",
			Name:      "results_total",
			Help:      "Execution results accepted, by status.",
		},
		[]string{"agent", "status"},
	)
	pendingExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "managecommand",
			Subsystem: "executions",
			Name:      "pending",
			Help:      "Execution requests currently queued.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			agentHeartbeats,
			executionResults,
			pendingExecutions,
		)
	})
}

func RecordHTTPRequest(component, method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(component, method, path, code).Inc()
	httpDuration.WithLabelValues(component, method, path, code).Observe(duration.Seconds())
}

func RecordHeartbeat(agent string) {
	agentHeartbeats.WithLabelValues(agent).Inc()
}

func RecordExecutionResult(agent, status string) {
	executionResults.WithLabelValues(agent, status).Inc()
}

func SetPendingExecutions(n int) {
	pendingExecutions.Set(float64(n))
}
