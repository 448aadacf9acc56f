// Package metrics exposes Prometheus collectors for the watcher service.
package metrics

import (
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/publicsuffix"
)

var (
	scanSuccessTotal           prometheus.Counter
	scanLockSkippedTotal       prometheus.Counter
	scanFailedTotal            prometheus.Counter
	scanDurationMs             prometheus.Histogram
	schedulerTicksTotal        prometheus.Counter
	schedulerJobsEnqueuedTotal prometheus.Counter
	fetchTotal                 *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge

	once sync.Once
)

// Init registers the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scanSuccessTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "webwatcher_scan_success_total",
			Help: "Total number of scans that completed successfully.",
		})
		scanLockSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "webwatcher_scan_lock_skipped_total",
			Help: "Total number of scans skipped because the company lock was held.",
		})
		scanFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "webwatcher_scan_failed_total",
			Help: "Total number of scans that ended in failure.",
		})
		scanDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "webwatcher_scan_duration_ms",
			Help:    "Histogram of scan durations in milliseconds.",
			Buckets: []float64{100, 500, 1000, 5000, 15000, 60000, 300000},
		})
		schedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "webwatcher_scheduler_ticks_total",
			Help: "Total number of scheduler ticks.",
		})
		schedulerJobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "webwatcher_scheduler_jobs_enqueued_total",
			Help: "Total number of scans enqueued by the scheduler.",
		})
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webwatcher_fetch_total",
				Help: "Total number of outbound fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webwatcher_rate_limit_delay_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "webwatcher_active_workers",
			Help: "Number of workers currently running a scan.",
		})
	})
}

// SanitizeSite reduces a URL to its registrable domain (eTLD+1), lowercased.
// Hosts without a public suffix (IPs, localhost) are returned as-is.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	host := strings.ToLower(u.Hostname())
	if net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		ObserveHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetch counts one outbound request. A status of 0 is recorded as "error".
func ObserveFetch(rawURL string, status int) {
	Init()
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	fetchTotal.WithLabelValues(SanitizeSite(rawURL), label).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveScanSuccess counts a successful scan.
func ObserveScanSuccess() {
	Init()
	scanSuccessTotal.Inc()
}

// ObserveScanLockSkipped counts a scan skipped by lock contention.
func ObserveScanLockSkipped() {
	Init()
	scanLockSkippedTotal.Inc()
}

// ObserveScanFailed counts a failed scan.
func ObserveScanFailed() {
	Init()
	scanFailedTotal.Inc()
}

// ObserveScanDuration records the wall time of one scan, whatever its outcome.
func ObserveScanDuration(duration time.Duration) {
	Init()
	scanDurationMs.Observe(float64(duration.Milliseconds()))
}

// ObserveSchedulerTick records one scheduler tick and the scans it enqueued.
func ObserveSchedulerTick(enqueued int) {
	Init()
	schedulerTicksTotal.Inc()
	if enqueued > 0 {
		schedulerJobsEnqueuedTotal.Add(float64(enqueued))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}
