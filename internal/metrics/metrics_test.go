package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.IncCameraSwitches()
	m.IncCameraSwitches()
	m.IncFallbackToggles(true)
	m.IncFallbackToggles(false)
	m.IncFallbackToggles(true)
	m.RecordingFinished(domain.RecordingCompleted)
	m.RecordingFinished(domain.RecordingFailed)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cameraSwitches))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbackToggles.WithLabelValues("on")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackToggles.WithLabelValues("off")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordingsTotal.WithLabelValues("failed")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncCameraSwitches()
		m.IncFallbackToggles(true)
		m.RecordingFinished(domain.RecordingCompleted)
		m.SetActiveShows(3)
		m.SetViewerTopics(1)
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMetrics_GinMiddlewareCountsByStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/conflict", func(c *gin.Context) { c.Status(http.StatusConflict) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/ok", nil),
		httptest.NewRequest(http.MethodGet, "/ok", nil),
		httptest.NewRequest(http.MethodPost, "/conflict", nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "409")))
}

func TestMetrics_HandlerRefreshesGauges(t *testing.T) {
	m := New()
	shows := 0

	scrape := func() string {
		w := httptest.NewRecorder()
		m.Handler(func() {
			m.SetActiveShows(shows)
			m.SetViewerTopics(shows * 2)
		}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, w.Code)
		return w.Body.String()
	}

	assert.Contains(t, scrape(), "multicam_active_shows 0")
	shows = 2
	body := scrape()
	assert.Contains(t, body, "multicam_active_shows 2")
	assert.Contains(t, body, "multicam_viewer_topics 4")
}
