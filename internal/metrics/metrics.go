// Package metrics provides Prometheus metrics for DiskAnalyzer.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskanalyzer_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diskanalyzer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Scan metrics
	scanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "diskanalyzer_scan_duration_seconds",
			Help:    "Time to (re)populate a subtree from disk",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)

	scanEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskanalyzer_scan_entries_total",
			Help: "Total entries discovered by scans",
		},
		[]string{"kind"},
	)

	scanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskanalyzer_scan_errors_total",
			Help: "Directories that could not be enumerated during a scan",
		},
	)

	// Watcher metrics
	watcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diskanalyzer_watcher_events_total",
			Help: "Total filesystem change events handled",
		},
		[]string{"type"},
	)

	raceFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskanalyzer_race_faults_total",
			Help: "Detected violations of expected index state",
		},
	)

	// Index metrics
	indexNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diskanalyzer_index_nodes",
			Help: "Number of files and directories in the index",
		},
	)

	indexBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "diskanalyzer_index_bytes",
			Help: "Total size of indexed files in bytes",
		},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "diskanalyzer_notifications_dropped_total",
			Help: "Node notifications dropped for slow subscribers",
		},
	)

	// Statistics metrics
	statsDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "diskanalyzer_stats_duration_seconds",
			Help:    "Statistics calculator duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"calculator"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordScan records a finished or cancelled scan.
func RecordScan(duration time.Duration, dirs, files int) {
	scanDuration.Observe(duration.Seconds())
	scanEntriesTotal.WithLabelValues("directory").Add(float64(dirs))
	scanEntriesTotal.WithLabelValues("file").Add(float64(files))
}

// RecordScanError records a directory that could not be enumerated.
func RecordScanError() {
	scanErrorsTotal.Inc()
}

// RecordWatcherEvent records a handled change event.
func RecordWatcherEvent(eventType string) {
	watcherEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordRaceFault records a detected race-condition fault.
func RecordRaceFault() {
	raceFaultsTotal.Inc()
}

// SetIndexTotals sets the current index size gauges.
func SetIndexTotals(nodes, bytes int64) {
	indexNodes.Set(float64(nodes))
	indexBytes.Set(float64(bytes))
}

// RecordNotificationDropped records a notification lost to a slow subscriber.
func RecordNotificationDropped() {
	notificationsDropped.Inc()
}

// RecordStats records a statistics calculator run.
func RecordStats(calculator string, duration time.Duration) {
	statsDuration.WithLabelValues(calculator).Observe(duration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled by route prefix.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), rw.statusCode, time.Since(start))
	})
}

// routeLabel keeps the first three path segments ("/api/v1/tree") so that
// filesystem paths embedded in URLs do not explode label cardinality.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 4)
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
