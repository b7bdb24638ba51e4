package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Session kinds used as the "kind" label.
const (
	KindTranscode = "transcode"
	KindRelay     = "relay"
	KindClip      = "clip"
)

// Metrics holds Prometheus counters and gauges for the media orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	sessionsStarted *prometheus.CounterVec
	sessionsEnded   *prometheus.CounterVec
	activeSessions  *prometheus.GaugeVec
	clipsTotal      *prometheus.CounterVec
	uploadRetries   prometheus.Counter
}

// New creates and registers Prometheus metrics for the orchestrator.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	sessionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_sessions_started_total",
		Help: "Encoder sessions spawned, by kind",
	}, []string{"kind"})
	sessionsEnded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_sessions_ended_total",
		Help: "Encoder sessions that emitted end, by kind",
	}, []string{"kind"})
	activeSessions := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "media_active_sessions",
		Help: "Sessions currently held in the registries, by kind",
	}, []string{"kind"})
	clipsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "media_clips_total",
		Help: "Clip requests, by result",
	}, []string{"result"})
	uploadRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "media_archive_upload_retries_total",
		Help: "Archive batch upload retries",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		sessionsStarted,
		sessionsEnded,
		activeSessions,
		clipsTotal,
		uploadRetries,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		sessionsStarted: sessionsStarted,
		sessionsEnded:   sessionsEnded,
		activeSessions:  activeSessions,
		clipsTotal:      clipsTotal,
		uploadRetries:   uploadRetries,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) SessionStarted(kind string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionEnded(kind string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the active sessions gauge for kind.
func (m *Metrics) SetActiveSessions(kind string, n int) {
	if m == nil {
		return
	}
	m.activeSessions.WithLabelValues(kind).Set(float64(n))
}

// ClipResult counts a finished clip request; result is "ok" or an error class.
func (m *Metrics) ClipResult(result string) {
	if m == nil {
		return
	}
	m.clipsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncUploadRetries() {
	if m == nil {
		return
	}
	m.uploadRetries.Inc()
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
