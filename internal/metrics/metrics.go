// Package metrics provides Prometheus instrumentation for the booking platform.
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
			Namespace: "bookingcore",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bookingcore",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BookingsTotal counts booking transitions by resulting status.
	BookingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookingcore",
			Name:      "bookings_total",
			Help:      "Total booking transitions by resulting status.",
		},
		[]string{"status"},
	)

	// GatewayCallsTotal counts payment gateway calls by operation and result.
	GatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookingcore",
			Name:      "gateway_calls_total",
			Help:      "Total payment gateway calls by operation and result.",
		},
		[]string{"operation", "result"},
	)

	// WebhookEventsTotal counts inbound gateway webhook events by result.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookingcore",
			Name:      "webhook_events_total",
			Help:      "Total inbound gateway webhook events by result.",
		},
		[]string{"result"},
	)

	// NotificationDeliveriesTotal counts outbound notification deliveries by result.
	NotificationDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bookingcore",
			Name:      "notification_deliveries_total",
			Help:      "Total outbound notification deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "bookingcore",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "bookingcore", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Lifecycle metrics ---

	BookingsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "bookings_created_total",
		Help:      "Total bookings created.",
	})

	FundsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "funds_released_total",
		Help:      "Total successful fund releases to providers.",
	})

	RefundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "refunds_total",
		Help:      "Total refunds issued to clients.",
	})

	DisputesOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "disputes_opened_total",
		Help:      "Total disputes opened.",
	})

	DisputesResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "disputes_resolved_total",
		Help:      "Total disputes resolved by outcome.",
	}, []string{"outcome"})

	AutoReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "auto_released_total",
		Help:      "Total bookings auto-released after the hold window.",
	})

	RevisionsRequestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "bookingcore",
		Name:      "revisions_requested_total",
		Help:      "Total revision requests accepted.",
	})

	HoldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bookingcore",
		Name:      "hold_duration_seconds",
		Help:      "Time from funds held to release or refund in seconds.",
		Buckets:   []float64{60, 600, 3600, 21600, 86400, 259200, 604800},
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BookingsTotal,
		GatewayCallsTotal,
		WebhookEventsTotal,
		NotificationDeliveriesTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		BookingsCreatedTotal,
		FundsReleasedTotal,
		RefundsTotal,
		DisputesOpenedTotal,
		DisputesResolvedTotal,
		AutoReleasedTotal,
		RevisionsRequestedTotal,
		HoldDuration,
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
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
