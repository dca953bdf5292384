package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/kelas-ledger-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// layer and the billing protocol.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	occurrencesMaterialized *prometheus.CounterVec
	deductionsTotal         *prometheus.CounterVec
	refundsTotal            prometheus.Counter
	overdueMarked           prometheus.Counter
	tickDuration            prometheus.Histogram
	ticksSkipped            prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
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

	occurrencesMaterialized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "occurrences_materialized_total",
		Help: "Class occurrences created, by origin",
	}, []string{"origin"})

	deductionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_deductions_total",
		Help: "Class credits deducted, by kind",
	}, []string{"kind"})

	refundsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credit_refunds_total",
		Help: "Class credits refunded",
	})

	overdueMarked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "billing_overdue_marked_total",
		Help: "Deduction attempts that found no prepaid credit",
	})

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scheduler_tick_duration_seconds",
		Help:    "Duration of scheduler catch-up ticks",
		Buckets: prometheus.DefBuckets,
	})

	ticksSkipped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, occurrencesMaterialized,
		deductionsTotal, refundsTotal, overdueMarked, tickDuration, ticksSkipped, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:                registry,
		handler:                 handler,
		requestDuration:         requestDuration,
		requestTotal:            requestTotal,
		occurrencesMaterialized: occurrencesMaterialized,
		deductionsTotal:         deductionsTotal,
		refundsTotal:            refundsTotal,
		overdueMarked:           overdueMarked,
		tickDuration:            tickDuration,
		ticksSkipped:            ticksSkipped,
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

// RecordMaterialized counts one occurrence creation.
func (m *MetricsService) RecordMaterialized(auto bool) {
	if m == nil {
		return
	}
	origin := "manual"
	if auto {
		origin = "auto"
	}
	m.occurrencesMaterialized.WithLabelValues(origin).Inc()
}

// RecordDeduction counts one successful credit deduction.
func (m *MetricsService) RecordDeduction(kind models.DeductionKind) {
	if m == nil {
		return
	}
	m.deductionsTotal.WithLabelValues(string(kind)).Inc()
}

// RecordRefund counts one credit refund.
func (m *MetricsService) RecordRefund() {
	if m == nil {
		return
	}
	m.refundsTotal.Inc()
}

// RecordOverdue counts one deduction attempt that went overdue.
func (m *MetricsService) RecordOverdue() {
	if m == nil {
		return
	}
	m.overdueMarked.Inc()
}

// ObserveTick records the duration of one scheduler tick.
func (m *MetricsService) ObserveTick(duration time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(duration.Seconds())
}

// RecordTickSkipped counts a tick skipped due to overlap.
func (m *MetricsService) RecordTickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}
