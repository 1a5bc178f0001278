// Package metrics exposes the director's Prometheus counters and gauges.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

// Metrics holds the director's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	cameraSwitches  prometheus.Counter
	fallbackToggles *prometheus.CounterVec
	recordingsTotal *prometheus.CounterVec
	activeShows     prometheus.Gauge
	viewerTopics    prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multicam_http_requests_total",
			Help: "Control API requests by method and status code",
		}, []string{"method", "code"}),
		cameraSwitches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "multicam_camera_switches_total",
			Help: "Accepted active-camera changes",
		}),
		fallbackToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multicam_fallback_toggles_total",
			Help: "Fallback overrides flipped, by resulting state",
		}, []string{"state"}),
		recordingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "multicam_recordings_finished_total",
			Help: "Recordings that reached a terminal state",
		}, []string{"status"}),
		activeShows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "multicam_active_shows",
			Help: "Shows with a running director session",
		}),
		viewerTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "multicam_viewer_topics",
			Help: "WebSocket topics with at least one viewer",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.cameraSwitches,
		m.fallbackToggles,
		m.recordingsTotal,
		m.activeShows,
		m.viewerTopics,
	)
	return m
}

// GinMiddleware counts every request once the handler chain returns.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		m.requestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

func (m *Metrics) IncCameraSwitches() {
	if m == nil {
		return
	}
	m.cameraSwitches.Inc()
}

func (m *Metrics) IncFallbackToggles(enabled bool) {
	if m == nil {
		return
	}
	state := "off"
	if enabled {
		state = "on"
	}
	m.fallbackToggles.WithLabelValues(state).Inc()
}

// RecordingFinished counts a recording that ended in status.
func (m *Metrics) RecordingFinished(status domain.RecordingStatus) {
	if m == nil {
		return
	}
	m.recordingsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) SetActiveShows(n int) {
	if m == nil {
		return
	}
	m.activeShows.Set(float64(n))
}

func (m *Metrics) SetViewerTopics(n int) {
	if m == nil {
		return
	}
	m.viewerTopics.Set(float64(n))
}

// Handler serves the registry. updateGauges runs before each scrape to
// refresh values that are sampled rather than counted.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
