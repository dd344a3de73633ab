// Package metrics provides Prometheus instrumentation for the broker core.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbroker",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentbroker",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitionsTotal counts escrow state transitions by the state
	// reached.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbroker",
			Name:      "escrow_transitions_total",
			Help:      "Total escrow state transitions by resulting state.",
		},
		[]string{"state"},
	)

	// QuoteTransitionsTotal counts quote state transitions by the state
	// reached.
	QuoteTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbroker",
			Name:      "quote_transitions_total",
			Help:      "Total quote state transitions by resulting state.",
		},
		[]string{"state"},
	)

	// TipTransitionsTotal counts tip state transitions by the state
	// reached.
	TipTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbroker",
			Name:      "tip_transitions_total",
			Help:      "Total tip state transitions by resulting state.",
		},
		[]string{"state"},
	)

	// WebhookDeliveriesTotal counts webhook delivery attempts by result
	// (success, transient_failure, permanent_failure).
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentbroker",
			Name:      "webhook_deliveries_total",
			Help:      "Total webhook deliveries by result.",
		},
		[]string{"result"},
	)

	// WebhookQueueDepth tracks the number of pending deliveries in the
	// durable queue.
	WebhookQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentbroker",
		Name:      "webhook_queue_depth",
		Help:      "Current number of pending webhook deliveries.",
	})

	// WebhookCheckpointDuration observes the latency of queue snapshot
	// checkpoints.
	WebhookCheckpointDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentbroker",
		Name:      "webhook_checkpoint_duration_seconds",
		Help:      "Duration of webhook queue checkpoint writes in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentbroker", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentbroker", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentbroker", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentbroker", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitionsTotal,
		QuoteTransitionsTotal,
		TipTransitionsTotal,
		WebhookDeliveriesTotal,
		WebhookQueueDepth,
		WebhookCheckpointDuration,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
