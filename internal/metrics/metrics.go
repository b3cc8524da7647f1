// Package metrics provides Prometheus instrumentation for the Chapel platform.
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
			Namespace: "chapel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chapel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EntitlementResolutionsTotal counts resolutions by winning source.
	EntitlementResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "entitlement_resolutions_total",
			Help:      "Total entitlement resolutions by winning source.",
		},
		[]string{"source"},
	)

	// QuotaChecksTotal counts quota checks by resource and resulting status.
	QuotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "quota_checks_total",
			Help:      "Total quota checks by resource and classification.",
		},
		[]string{"resource", "status"},
	)

	// CouponRedemptionsTotal counts redemption attempts by result.
	CouponRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "coupon_redemptions_total",
			Help:      "Total coupon redemption attempts by result.",
		},
		[]string{"result"},
	)

	// ProviderAPICallsTotal counts outbound meeting-provider calls.
	ProviderAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "provider_api_calls_total",
			Help:      "Total meeting provider API calls by platform, operation, and result.",
		},
		[]string{"platform", "operation", "result"},
	)

	// ProviderAPIDuration observes provider call latency.
	ProviderAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chapel",
			Name:      "provider_api_duration_seconds",
			Help:      "Meeting provider API call duration in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"platform", "operation"},
	)

	// TokenRefreshesTotal counts OAuth token refreshes by platform and result.
	TokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "token_refreshes_total",
			Help:      "Total OAuth token refreshes by platform and result.",
		},
		[]string{"platform", "result"},
	)

	// MeetingAuthRetriesTotal counts refresh-and-retry cycles taken after a
	// classified authentication failure.
	MeetingAuthRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chapel",
			Name:      "meeting_auth_retries_total",
			Help:      "Total meeting calls retried after an authentication failure.",
		},
		[]string{"platform"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chapel", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chapel", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chapel", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chapel", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EntitlementResolutionsTotal,
		QuotaChecksTotal,
		CouponRedemptionsTotal,
		ProviderAPICallsTotal,
		ProviderAPIDuration,
		TokenRefreshesTotal,
		MeetingAuthRetriesTotal,
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
