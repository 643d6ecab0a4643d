package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/edurisk-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// ingestion pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	uploadsTotal    *prometheus.CounterVec
	uploadRowsTotal *prometheus.CounterVec
	rollbacksTotal  prometheus.Counter
	uploadDuration  prometheus.Histogram
}

// NewMetricsService registers the collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	uploadsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "uploads_total",
		Help: "Finalized uploads by outcome",
	}, []string{"status"})

	uploadRowsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upload_rows_total",
		Help: "Processed upload rows by validation status",
	}, []string{"status"})

	rollbacksTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollbacks_total",
		Help: "Completed upload rollbacks",
	})

	uploadDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "upload_commit_duration_seconds",
		Help:    "Wall time of the commit phase per upload",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, uploadsTotal, uploadRowsTotal, rollbacksTotal, uploadDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		uploadsTotal:    uploadsTotal,
		uploadRowsTotal: uploadRowsTotal,
		rollbacksTotal:  rollbacksTotal,
		uploadDuration:  uploadDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordUpload counts a finalized upload by outcome.
func (m *MetricsService) RecordUpload(status models.UploadStatus) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(string(status)).Inc()
}

// RecordRows counts processed rows by validation status.
func (m *MetricsService) RecordRows(status models.RowStatus, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.uploadRowsTotal.WithLabelValues(string(status)).Add(float64(count))
}

// RecordRollback counts a completed rollback.
func (m *MetricsService) RecordRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

// ObserveCommit records the commit-phase wall time for one upload.
func (m *MetricsService) ObserveCommit(duration time.Duration) {
	if m == nil {
		return
	}
	m.uploadDuration.Observe(duration.Seconds())
}
