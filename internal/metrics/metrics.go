// Package metrics provides Prometheus instrumentation for the CashX backend.
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
			Namespace: "cashx",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cashx",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AgentSearchesTotal counts agent proximity searches by outcome.
	AgentSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "agent_searches_total",
			Help:      "Total agent proximity searches by outcome (matched, empty).",
		},
		[]string{"outcome"},
	)

	// RouteLookupsTotal counts distance oracle lookups by result.
	RouteLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "route_lookups_total",
			Help:      "Total routing provider lookups by result (ok, error, out_of_range).",
		},
		[]string{"result"},
	)

	// RequestsDispatchedTotal counts exchange requests dispatched to agents.
	RequestsDispatchedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cashx",
		Name:      "requests_dispatched_total",
		Help:      "Total exchange requests dispatched to agents.",
	})

	// RequestReactionsTotal counts agent reactions by decision.
	RequestReactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "request_reactions_total",
			Help:      "Total agent reactions to dispatched requests by decision.",
		},
		[]string{"decision"},
	)

	// TransactionsClosedTotal counts transactions reaching a terminal state.
	TransactionsClosedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "transactions_closed_total",
			Help:      "Total exchange transactions closed by terminal status.",
		},
		[]string{"status"},
	)

	// PaymentsTotal counts escrow payments by gateway and status.
	PaymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "payments_total",
			Help:      "Total escrow payments by gateway and status.",
		},
		[]string{"gateway", "status"},
	)

	// RealtimeEventsTotal counts realtime events processed by event name.
	RealtimeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "realtime_events_total",
			Help:      "Total realtime events processed by event name.",
		},
		[]string{"event"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cashx",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// PushNotificationsTotal counts push notification deliveries by result.
	PushNotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cashx",
			Name:      "push_notifications_total",
			Help:      "Total push notification deliveries by result.",
		},
		[]string{"result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cashx", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cashx", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cashx", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cashx", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AgentSearchesTotal,
		RouteLookupsTotal,
		RequestsDispatchedTotal,
		RequestReactionsTotal,
		TransactionsClosedTotal,
		PaymentsTotal,
		RealtimeEventsTotal,
		ActiveWebSocketClients,
		PushNotificationsTotal,
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
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
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
