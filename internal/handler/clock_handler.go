package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-multicam/internal/audit"
	"github.com/weiawesome/wes-io-multicam/internal/clock"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/middleware"
	"github.com/weiawesome/wes-io-multicam/pkg/response"
)

// SetPeriodRequest moves the match to a period.
type SetPeriodRequest struct {
	Period clock.Period `json:"period" binding:"required"`
}

// SetAddedTimeRequest announces added minutes.
type SetAddedTimeRequest struct {
	Minutes *int `json:"minutes" binding:"required"`
}

// SetStatusRequest changes the match status.
type SetStatusRequest struct {
	Status clock.Status `json:"status" binding:"required"`
}

type clockAction func(c *gin.Context, fixtureID string) (clock.LiveClockState, error)

// GetClock returns the current clock reading.
func (h *Handler) GetClock(c *gin.Context) {
	fixtureID := c.Param("fixtureId")

	state, err := h.clock.State(c.Request.Context(), fixtureID)
	if err != nil {
		fail(c, err, "failed to get clock")
		return
	}

	response.Success(c, clock.Read(state, h.now()))
}

// runClock applies a privileged clock action, audits it and replies with the
// resulting reading.
func (h *Handler) runClock(c *gin.Context, action, detail string, fn clockAction) {
	fixtureID := c.Param("fixtureId")
	ctx := log.WithLogger(c.Request.Context(), log.Ctx(c.Request.Context()).With().Str(log.FieldFixtureID, fixtureID).Logger())
	c.Request = c.Request.WithContext(ctx)

	state, err := fn(c, fixtureID)
	if err != nil {
		fail(c, err, "failed to update clock")
		return
	}

	audit.LogWithDetail(ctx, action, middleware.GetUserID(c), detail, "match clock updated")
	response.Success(c, clock.Read(state, h.now()))
}

// StartClock kicks off the first period.
func (h *Handler) StartClock(c *gin.Context) {
	h.runClock(c, audit.ActionClockStart, "", func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.Start(c.Request.Context(), id)
	})
}

// PauseClock freezes the clock.
func (h *Handler) PauseClock(c *gin.Context) {
	h.runClock(c, audit.ActionClockPause, "", func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.Pause(c.Request.Context(), id)
	})
}

// ResumeClock restarts a paused clock.
func (h *Handler) ResumeClock(c *gin.Context) {
	h.runClock(c, audit.ActionClockResume, "", func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.Resume(c.Request.Context(), id)
	})
}

// SetPeriod advances the match to a period.
func (h *Handler) SetPeriod(c *gin.Context) {
	var req SetPeriodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.runClock(c, audit.ActionClockPeriod, string(req.Period), func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.AdvancePeriod(c.Request.Context(), id, req.Period)
	})
}

// SetAddedTime announces the current period's added time.
func (h *Handler) SetAddedTime(c *gin.Context) {
	var req SetAddedTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.runClock(c, audit.ActionClockAddedTime, fmt.Sprintf("%d", *req.Minutes), func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.SetAddedTime(c.Request.Context(), id, *req.Minutes)
	})
}

// SetStatus changes the match status.
func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	h.runClock(c, audit.ActionClockStatus, string(req.Status), func(c *gin.Context, id string) (clock.LiveClockState, error) {
		return h.clock.SetStatus(c.Request.Context(), id, req.Status)
	})
}
