package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tollgateRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	tollgateRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tollgate_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tollgateSignInsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_signins_total",
		Help: "Total sign-in attempts by method and result.",
	}, []string{"method", "result"})

	tollgateReconciliationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_reconciliations_total",
		Help: "Total OAuth reconciliations by applied transition case.",
	}, []string{"case"})

	tollgatePasswordSetupsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tollgate_password_setups_total",
		Help: "Total successful password-setup operations.",
	})

	tollgateHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tollgate_health_checks_total",
		Help: "Total store health probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		tollgateRequestsTotal.WithLabelValues(method, path, status).Inc()
		tollgateRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordSignIn records a sign-in attempt. method is "credentials" or "oauth".
func RecordSignIn(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	tollgateSignInsTotal.WithLabelValues(method, result).Inc()
}

// RecordReconciliation records the transition case applied by an OAuth reconciliation.
func RecordReconciliation(caseName string) {
	tollgateReconciliationsTotal.WithLabelValues(caseName).Inc()
}

// RecordPasswordSetup records a successful password-setup operation.
func RecordPasswordSetup() {
	tollgatePasswordSetupsTotal.Inc()
}

// RecordHealthCheck records a store health probe result.
func RecordHealthCheck(success bool) {
	if success {
		tollgateHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		tollgateHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}
