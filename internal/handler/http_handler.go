package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-multicam/internal/clock"
	"github.com/weiawesome/wes-io-multicam/internal/director"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/metrics"
	"github.com/weiawesome/wes-io-multicam/internal/repository"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/middleware"
	"github.com/weiawesome/wes-io-multicam/pkg/response"
)

// Roles granted by bearer tokens.
const (
	RoleDirector   = "director"
	RoleMatchAdmin = "match_admin"
)

// Handler handles the control API.
type Handler struct {
	directors      *director.Manager
	clock          *clock.Controller
	recordings     repository.RecordingRepository
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
	now            func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithNow overrides the time source used to derive clock readings.
func WithNow(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithMetrics counts control actions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a new HTTP handler. recordings may be nil when the
// catalog is disabled.
func NewHandler(directors *director.Manager, clk *clock.Controller, recordings repository.RecordingRepository, authMiddleware *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		directors:      directors,
		clock:          clk,
		recordings:     recordings,
		authMiddleware: authMiddleware,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		shows := api.Group("/shows/:showId")
		{
			// Public routes
			shows.GET("", h.GetShow)

			// Director routes
			ctl := shows.Group("", h.authMiddleware.RequireRole(RoleDirector))
			ctl.PUT("/active-camera", h.SetActiveCamera)
			ctl.POST("/zoom", h.RequestZoom)
			ctl.DELETE("/cameras/:slot", h.KickCamera)
			ctl.PUT("/fallback/:slot", h.UploadFallback)
			ctl.DELETE("/fallback/:slot", h.RemoveFallback)
			ctl.POST("/fallback/:slot/toggle", h.ToggleFallback)
			ctl.POST("/recording/start", h.StartRecording)
			ctl.POST("/recording/stop", h.StopRecording)
			ctl.GET("/recordings", h.ListRecordings)
			ctl.GET("/recordings/:id/events", h.GetRecordingEvents)
		}

		matches := api.Group("/matches/:fixtureId")
		{
			// Public routes
			matches.GET("/clock", h.GetClock)

			// Match admin routes
			admin := matches.Group("/clock", h.authMiddleware.RequireRole(RoleMatchAdmin))
			admin.POST("/start", h.StartClock)
			admin.POST("/pause", h.PauseClock)
			admin.POST("/resume", h.ResumeClock)
			admin.PUT("/period", h.SetPeriod)
			admin.PUT("/added-time", h.SetAddedTime)
			admin.PUT("/status", h.SetStatus)
		}
	}
}

var conflicts = []struct {
	err  error
	code string
}{
	{domain.ErrSlotOccupied, "SLOT_OCCUPIED"},
	{domain.ErrNoFallbackImage, "NO_FALLBACK_IMAGE"},
	{domain.ErrInvalidStateTransition, "INVALID_STATE_TRANSITION"},
	{domain.ErrCameraNotConnected, "CAMERA_NOT_CONNECTED"},
	{domain.ErrNoActiveCamera, "NO_ACTIVE_CAMERA"},
	{domain.ErrStaleDescriptor, "STALE_DESCRIPTOR"},
}

// fail maps err onto the response envelope. Unexpected errors are logged.
func fail(c *gin.Context, err error, what string) {
	for _, cf := range conflicts {
		if errors.Is(err, cf.err) {
			response.Error(c, http.StatusConflict, cf.code, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, domain.ErrInvalidSlot), errors.Is(err, domain.ErrInvalidArgument):
		response.BadRequest(c, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, repository.ErrRecordingNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, domain.ErrStorageUpload), errors.Is(err, domain.ErrRecordingFinalize):
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(what)
		response.BadGateway(c, err.Error())
	default:
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(what)
		response.InternalError(c, what)
	}
}
