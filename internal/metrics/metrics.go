// Package metrics holds the Prometheus collectors for the legal journal.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	journalEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_entries_appended_total",
		Help: "Total legal journal entries appended by transaction type.",
	}, []string{"type"})

	journalAppendConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "legaljournal_append_conflicts_total",
		Help: "Total append attempts rejected because the chain tail moved.",
	})

	journalLastSequence = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "legaljournal_last_sequence",
		Help: "Sequence number of the most recently appended entry.",
	})

	integrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_integrity_checks_total",
		Help: "Total integrity verifications by result.",
	}, []string{"result"})

	integrityHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "legaljournal_integrity_healthy",
		Help: "1 when the last background chain check found no break, 0 otherwise.",
	})

	closuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_closures_total",
		Help: "Total closure attempts by closure type and result.",
	}, []string{"type", "result"})

	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_exports_total",
		Help: "Total archive exports by export type, format and final status.",
	}, []string{"type", "format", "status"})

	exportVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_export_verifications_total",
		Help: "Total export verifications by result.",
	}, []string{"result"})

	schedulerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_scheduler_ticks_total",
		Help: "Total closure scheduler ticks by outcome.",
	}, []string{"outcome"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "legaljournal_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "legaljournal_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordAppend records a successful journal append.
func RecordAppend(txType string, sequence int64) {
	journalEntriesTotal.WithLabelValues(txType).Inc()
	journalLastSequence.Set(float64(sequence))
}

// RecordAppendConflict records an append rejected with a chain-state conflict.
func RecordAppendConflict() {
	journalAppendConflictsTotal.Inc()
}

// RecordIntegrityCheck records the outcome of a chain verification.
func RecordIntegrityCheck(valid bool) {
	integrityChecksTotal.WithLabelValues(result(valid, "valid", "compromised")).Inc()
}

// SetIntegrityHealthy publishes the background monitor's verdict.
func SetIntegrityHealthy(ok bool) {
	if ok {
		integrityHealthy.Set(1)
		return
	}
	integrityHealthy.Set(0)
}

// RecordClosure records a closure attempt. result is one of
// "created", "duplicate" or "error".
func RecordClosure(closureType, result string) {
	closuresTotal.WithLabelValues(closureType, result).Inc()
}

// RecordExport records an export reaching a terminal status.
func RecordExport(exportType, format, status string) {
	exportsTotal.WithLabelValues(exportType, format, status).Inc()
}

// RecordExportVerification records the outcome of an export verification.
func RecordExportVerification(valid bool) {
	exportVerificationsTotal.WithLabelValues(result(valid, "valid", "invalid")).Inc()
}

// RecordSchedulerTick records one closure scheduler tick.
func RecordSchedulerTick(outcome string) {
	schedulerTicksTotal.WithLabelValues(outcome).Inc()
}

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

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
