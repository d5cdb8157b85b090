// Package metrics exposes prometheus instrumentation for the entitlement core.
package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records domain-level counters.
type Metrics struct {
	notificationOutcomes *prometheus.CounterVec
	receiptReconciles    *prometheus.CounterVec
	entitlementReads     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		notificationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "notifications",
			Name:      "processed_total",
			Help:      "App Store notification deliveries by type and pipeline outcome.",
		}, []string{"type", "outcome"}),
		receiptReconciles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "receipts",
			Name:      "reconciled_total",
			Help:      "Legacy receipt reconciliation calls by result.",
		}, []string{"result"}),
		entitlementReads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "entitlements",
			Name:      "resolved_total",
			Help:      "Entitlement resolutions served.",
		}),
	}
}

func (m *Metrics) RecordNotificationOutcome(notificationType, outcome string) {
	if m == nil {
		return
	}
	if strings.TrimSpace(notificationType) == "" {
		notificationType = "unknown"
	}
	m.notificationOutcomes.WithLabelValues(notificationType, outcome).Inc()
}

func (m *Metrics) RecordReceiptReconcile(result string) {
	if m == nil {
		return
	}
	m.receiptReconciles.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEntitlementRead() {
	if m == nil {
		return
	}
	m.entitlementReads.Inc()
}

// HTTPMetrics records per-route request counters and latency.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hearth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hearth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

// GinMiddleware instruments each request handled by the engine.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
