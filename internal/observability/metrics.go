package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pitabwire/onboard/model"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments of the onboarding service.
// It implements the observer interfaces of the token, signing, onboarding
// and document packages.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Lifecycle metrics
	ContractorEventsTotal      *prometheus.CounterVec
	ContractorTransitionsTotal *prometheus.CounterVec
	TokenResolutionsTotal      *prometheus.CounterVec

	// Document metrics
	DocumentRendersTotal *prometheus.CounterVec
	RetryQueueDepth      prometheus.Gauge

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "onboard_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Lifecycle
		ContractorEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_contractor_events_total",
			Help: "Total number of committed contractor audit events.",
		}, []string{"event"}),
		ContractorTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_contractor_transitions_total",
			Help: "Total number of contractor status transitions.",
		}, []string{"from", "to"}),
		TokenResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_token_resolutions_total",
			Help: "Total number of signing link resolutions by outcome.",
		}, []string{"outcome"}),

		// Documents
		DocumentRendersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_document_renders_total",
			Help: "Total number of contract PDF renders by outcome.",
		}, []string{"outcome"}),
		RetryQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "onboard_render_retry_queue_depth",
			Help: "Number of contract renders waiting for retry.",
		}),

		// Notifications
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "onboard_notifications_total",
			Help: "Total number of notifications by kind and outcome.",
		}, []string{"kind", "outcome"}),

		// Cache
		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onboard_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "onboard_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Lifecycle
		m.ContractorEventsTotal,
		m.ContractorTransitionsTotal,
		m.TokenResolutionsTotal,
		// Documents
		m.DocumentRendersTotal,
		m.RetryQueueDepth,
		// Notifications
		m.NotificationsTotal,
		// Cache
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// OnContractorEvent counts a committed audit event and, when the status
// changed, the transition.
func (m *Metrics) OnContractorEvent(_ context.Context, e model.ContractorEvent) {
	m.ContractorEventsTotal.WithLabelValues(e.Event).Inc()
	if e.FromStatus != e.ToStatus {
		from := string(e.FromStatus)
		if from == "" {
			from = "none"
		}
		m.ContractorTransitionsTotal.WithLabelValues(from, string(e.ToStatus)).Inc()
	}
}

// OnTokenResolved counts a signing link resolution.
func (m *Metrics) OnTokenResolved(_ context.Context, outcome string) {
	m.TokenResolutionsTotal.WithLabelValues(outcome).Inc()
}

// OnDocumentRender counts a render attempt.
func (m *Metrics) OnDocumentRender(_ context.Context, outcome string) {
	m.DocumentRendersTotal.WithLabelValues(outcome).Inc()
}

// OnRetryQueueDepth sets the retry queue gauge.
func (m *Metrics) OnRetryQueueDepth(depth int64) {
	m.RetryQueueDepth.Set(float64(depth))
}

// RecordNotification counts a notification delivery attempt.
func (m *Metrics) RecordNotification(kind model.NotificationKind, err error) {
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	m.NotificationsTotal.WithLabelValues(string(kind), outcome).Inc()
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// --- Notifier instrumentation ---

// InstrumentNotifier wraps n so every delivery attempt is counted.
func (m *Metrics) InstrumentNotifier(n model.Notifier) model.Notifier {
	return &countingNotifier{next: n, metrics: m}
}

type countingNotifier struct {
	next    model.Notifier
	metrics *Metrics
}

func (c *countingNotifier) Send(ctx context.Context, n model.Notification) error {
	err := c.next.Send(ctx, n)
	c.metrics.RecordNotification(n.Kind, err)
	return err
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion. Signing tokens in /contracts/{token} never become labels.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		duration := time.Since(start)
		pathPattern := RoutePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the given gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RoutePattern extracts chi's route pattern from the request context. An
// unmatched route is reported as "unmatched" so raw paths, which may carry
// signing tokens, never become labels.
func RoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return "unmatched"
	}
	pattern := rctx.RoutePattern()
	// Mounted subrouters leave a trailing /* behind.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return "unmatched"
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
