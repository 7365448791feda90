// Package metrics exposes the Prometheus collectors shared by the
// aggregator and ingestion server processes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector tick metrics.
var (
	CollectorTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_ticks_total",
			Help: "Total collector ticks by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	CollectorTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_tick_duration_seconds",
			Help:    "Duration of one collector tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// Upload queue metrics.
var (
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "upload_queue_depth",
			Help: "Current depth of the upload queue by list",
		},
		[]string{"list"},
	)

	QueueDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_queue_deliveries_total",
			Help: "Total delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	QueueDeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_queue_delivery_duration_seconds",
			Help:    "Duration of upload HTTP calls",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDeliveryDuration)
}

// HTTP server metrics.
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_http_requests_total",
			Help: "Total HTTP requests handled by the ingestion server",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_http_request_duration_seconds",
			Help:    "Duration of HTTP requests handled by the ingestion server",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingest_http_requests_in_flight",
			Help: "HTTP requests currently being processed",
		},
		[]string{"method", "route"},
	)
)

// Middleware instruments HTTP handlers with request count, duration, and
// in-flight gauges. route should be the matched route pattern, not the raw
// path, to keep label cardinality bounded.
func Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		method := r.Method

		httpRequestsInFlight.WithLabelValues(method, route).Inc()
		defer httpRequestsInFlight.WithLabelValues(method, route).Dec()

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(rec.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
