package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RelayHealthScore tracks the smoothed health score per relay
	RelayHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymesh_relay_health_score",
			Help: "Smoothed health score of a relay in [0, 1]",
		},
		[]string{"relay"},
	)

	// RelayLatency tracks the smoothed latency per relay in seconds
	RelayLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymesh_relay_latency_seconds",
			Help: "Exponential moving average of relay request latency in seconds",
		},
		[]string{"relay"},
	)

	// RelayOutcomesTotal counts health samples per relay and outcome
	RelayOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymesh_relay_outcomes_total",
			Help: "Health samples recorded per relay by outcome (success, failure)",
		},
		[]string{"relay", "outcome"},
	)

	// QueueDepth tracks pending items per queue and priority
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymesh_queue_depth",
			Help: "Pending items per request queue and priority",
		},
		[]string{"queue", "priority"},
	)

	// QueueDroppedTotal counts items evicted or rejected because a queue was full
	QueueDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymesh_queue_dropped_total",
			Help: "Items dropped or rejected by full request queues",
		},
		[]string{"queue", "priority"},
	)

	// QueueWait tracks the time items spend queued before running
	QueueWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaymesh_queue_wait_seconds",
			Help:    "Time items spend in a request queue before execution",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
		},
		[]string{"queue", "priority"},
	)

	// PoolConnections tracks pooled connections by pool and state
	PoolConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymesh_pool_connections",
			Help: "Pooled relay connections by pool and state (total, idle, active)",
		},
		[]string{"pool", "state"},
	)

	// RequestsTotal counts queries and publishes per pool, operation and status
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaymesh_requests_total",
			Help: "Queries and publishes by pool, operation and status",
		},
		[]string{"pool", "op", "intent", "status"},
	)

	// EndpointStates tracks active endpoints per orchestrator state
	EndpointStates = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relaymesh_endpoint_states",
			Help: "Active endpoints by connection state",
		},
		[]string{"state"},
	)
)

// RecordRelayHealth publishes the latest score and latency for a relay
func RecordRelayHealth(relay string, score, latencySeconds float64) {
	RelayHealthScore.WithLabelValues(relay).Set(score)
	RelayLatency.WithLabelValues(relay).Set(latencySeconds)
}

// RecordRelayOutcome counts a success or failure sample
func RecordRelayOutcome(relay string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	RelayOutcomesTotal.WithLabelValues(relay, outcome).Inc()
}

// ForgetRelay removes per-relay series once a relay is pruned
func ForgetRelay(relay string) {
	RelayHealthScore.DeleteLabelValues(relay)
	RelayLatency.DeleteLabelValues(relay)
	RelayOutcomesTotal.DeleteLabelValues(relay, "success")
	RelayOutcomesTotal.DeleteLabelValues(relay, "failure")
}

// SetQueueDepth sets the pending count for a queue and priority
func SetQueueDepth(queue, priority string, depth int) {
	QueueDepth.WithLabelValues(queue, priority).Set(float64(depth))
}

// RecordQueueDrop counts a dropped or rejected item
func RecordQueueDrop(queue, priority string) {
	QueueDroppedTotal.WithLabelValues(queue, priority).Inc()
}

// RecordQueueWait observes how long an item waited
func RecordQueueWait(queue, priority string, seconds float64) {
	QueueWait.WithLabelValues(queue, priority).Observe(seconds)
}

// SetPoolConnections sets pool connection gauges
func SetPoolConnections(pool string, total, idle, active int) {
	PoolConnections.WithLabelValues(pool, "total").Set(float64(total))
	PoolConnections.WithLabelValues(pool, "idle").Set(float64(idle))
	PoolConnections.WithLabelValues(pool, "active").Set(float64(active))
}

// RecordRequest counts a query or publish outcome
func RecordRequest(pool, op, intent string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RequestsTotal.WithLabelValues(pool, op, intent, status).Inc()
}

// SetEndpointStates sets the per-state endpoint gauges
func SetEndpointStates(connecting, connected, failed int) {
	EndpointStates.WithLabelValues("connecting").Set(float64(connecting))
	EndpointStates.WithLabelValues("connected").Set(float64(connected))
	EndpointStates.WithLabelValues("failed").Set(float64(failed))
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
