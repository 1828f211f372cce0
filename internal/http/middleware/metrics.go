// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation. HTTP traffic is measured by
// request count, latency, and in-flight concurrency; the "path" label always
// uses the registered Gin route to keep cardinality bounded. Alongside the
// transport metrics, two domain counters track duty-session transitions and
// verification outcomes so dashboards can follow the business flow, not just
// the HTTP surface.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// httpReqs counts requests by method, route path, and status code.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	// httpLat records request duration in seconds by method and route path.
	// Status is omitted to keep histogram cardinality lower.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// httpInflight gauges the number of in-flight requests.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
	)

	// dutyTransitions counts state-machine transitions by kind
	// (start/pause/resume/end).
	dutyTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duty_transitions_total",
			Help: "Total duty-session state transitions by kind.",
		},
		[]string{"kind"},
	)

	// verificationChecks counts verification check outcomes
	// (verified/fallback/code_missing/failed).
	verificationChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_checks_total",
			Help: "Total verification check outcomes.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, dutyTransitions, verificationChecks)
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
// Usage:
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(method, path, status).Inc()
		httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// CountDutyTransition records one duty state transition for dashboards.
func CountDutyTransition(kind string) {
	dutyTransitions.WithLabelValues(kind).Inc()
}

// CountVerificationCheck records one verification check outcome.
func CountVerificationCheck(outcome string) {
	verificationChecks.WithLabelValues(outcome).Inc()
}
