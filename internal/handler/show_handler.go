package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-multicam/internal/audit"
	"github.com/weiawesome/wes-io-multicam/internal/director"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/fallback"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/middleware"
	"github.com/weiawesome/wes-io-multicam/pkg/response"
)

// SetActiveCameraRequest switches the program feed. A null slot switches
// the broadcast off.
type SetActiveCameraRequest struct {
	SlotID *domain.SlotID `json:"slotId"`
}

// ActiveCameraResponse reports a switch.
type ActiveCameraResponse struct {
	ActiveCameraID   *domain.SlotID `json:"activeCameraId"`
	PreviousCameraID *domain.SlotID `json:"previousCameraId"`
}

// ZoomRequest is a zoom command for the active camera.
type ZoomRequest struct {
	Level float64 `json:"level" binding:"required"`
}

// ListRecordingsRequest pages through a show's recordings.
type ListRecordingsRequest struct {
	Page     int `form:"page"`
	PageSize int `form:"page_size"`
}

// ListRecordingsResponse is one page of recordings.
type ListRecordingsResponse struct {
	Recordings []domain.RecordingSession `json:"recordings"`
	Total      int                       `json:"total"`
	Page       int                       `json:"page"`
	PageSize   int                       `json:"pageSize"`
}

// RecordingEventsResponse is a recording's camera timeline.
type RecordingEventsResponse struct {
	RecordingID string               `json:"recordingId"`
	Events      []domain.CameraEvent `json:"events"`
}

// show resolves the show's director, starting it on first use. Only
// director routes may call it.
func (h *Handler) show(c *gin.Context) (*director.Director, bool) {
	showID := c.Param("showId")
	c.Request = c.Request.WithContext(log.WithShow(c.Request.Context(), showID))

	d, err := h.directors.Get(c.Request.Context(), showID)
	if err != nil {
		fail(c, err, "failed to open show")
		return nil, false
	}
	return d, true
}

func slotParam(c *gin.Context) (domain.SlotID, bool) {
	slot, err := domain.ParseSlot(c.Param("slot"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return "", false
	}
	return slot, true
}

// GetShow returns the room with every slot's effective source. It never
// starts a director.
func (h *Handler) GetShow(c *gin.Context) {
	showID := c.Param("showId")
	ctx := log.WithShow(c.Request.Context(), showID)
	c.Request = c.Request.WithContext(ctx)

	snapshot, err := h.directors.Snapshot(ctx, showID)
	if err != nil {
		fail(c, err, "failed to get show")
		return
	}

	response.Success(c, snapshot)
}

// SetActiveCamera switches the program feed.
func (h *Handler) SetActiveCamera(c *gin.Context) {
	var req SetActiveCameraRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.SlotID != nil && !req.SlotID.Valid() {
		response.BadRequest(c, fmt.Sprintf("%v: %q", domain.ErrInvalidSlot, *req.SlotID))
		return
	}

	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	previous, err := d.SetActiveCamera(ctx, req.SlotID)
	if err != nil {
		fail(c, err, "failed to switch camera")
		return
	}

	h.metrics.IncCameraSwitches()
	audit.LogWithDetail(ctx, audit.ActionCameraSwitch, middleware.GetUserID(c), slotDetail(req.SlotID), "active camera switched")
	response.Success(c, ActiveCameraResponse{ActiveCameraID: req.SlotID, PreviousCameraID: previous})
}

// RequestZoom relays a zoom command to the active camera.
func (h *Handler) RequestZoom(c *gin.Context) {
	var req ZoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := d.RequestZoom(ctx, req.Level); err != nil {
		fail(c, err, "failed to request zoom")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionCameraZoom, middleware.GetUserID(c), fmt.Sprintf("%.2f", req.Level), "zoom requested")
	response.Accepted(c, req)
}

// KickCamera disconnects the camera holding a slot.
func (h *Handler) KickCamera(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := d.KickCamera(ctx, slot); err != nil {
		fail(c, err, "failed to disconnect camera")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionCameraKick, middleware.GetUserID(c), string(slot), "camera disconnected by operator")
	c.Status(http.StatusNoContent)
}

// UploadFallback stores the multipart "image" as a slot's fallback image.
func (h *Handler) UploadFallback(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "missing image file")
		return
	}
	if file.Size > fallback.MaxImageSize {
		response.BadRequest(c, "image too large")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.BadRequest(c, "unreadable image file")
		return
	}
	defer f.Close()

	image, err := io.ReadAll(io.LimitReader(f, fallback.MaxImageSize+1))
	if err != nil {
		response.BadRequest(c, "unreadable image file")
		return
	}
	contentType := file.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(image)
	}

	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	url, err := d.UploadFallback(ctx, slot, image, contentType)
	if err != nil {
		fail(c, err, "failed to upload fallback image")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionFallbackUpload, middleware.GetUserID(c), string(slot), "fallback image uploaded")
	response.Created(c, gin.H{"slotId": slot, "fallbackImageUrl": url})
}

// RemoveFallback deletes a slot's fallback image.
func (h *Handler) RemoveFallback(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := d.RemoveFallback(ctx, slot); err != nil {
		fail(c, err, "failed to remove fallback image")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionFallbackRemove, middleware.GetUserID(c), string(slot), "fallback image removed")
	c.Status(http.StatusNoContent)
}

// ToggleFallback flips a slot's fallback override.
func (h *Handler) ToggleFallback(c *gin.Context) {
	slot, ok := slotParam(c)
	if !ok {
		return
	}
	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	result, err := d.ToggleFallback(ctx, slot)
	if err != nil {
		fail(c, err, "failed to toggle fallback")
		return
	}

	h.metrics.IncFallbackToggles(result.Enabled)
	audit.LogWithDetail(ctx, audit.ActionFallbackToggle, middleware.GetUserID(c), fmt.Sprintf("%s=%t", slot, result.Enabled), "fallback toggled")
	response.Success(c, result)
}

// StartRecording records the active camera.
func (h *Handler) StartRecording(c *gin.Context) {
	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	session, err := d.StartRecording(ctx)
	if err != nil {
		fail(c, err, "failed to start recording")
		return
	}

	audit.LogWithDetail(ctx, audit.ActionRecordingStart, middleware.GetUserID(c), session.ID, "recording started")
	response.Created(c, session)
}

// StopRecording finalizes the recording.
func (h *Handler) StopRecording(c *gin.Context) {
	d, ok := h.show(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	session, err := d.StopRecording(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRecordingFinalize) {
			h.metrics.RecordingFinished(domain.RecordingFailed)
		}
		fail(c, err, "failed to stop recording")
		return
	}
	h.metrics.RecordingFinished(session.Status)

	audit.LogWithDetail(ctx, audit.ActionRecordingStop, middleware.GetUserID(c), session.ID, "recording stopped")
	response.Success(c, session)
}

// ListRecordings lists a show's recordings, newest first.
func (h *Handler) ListRecordings(c *gin.Context) {
	if h.recordings == nil {
		response.NotFound(c, "recording catalog disabled")
		return
	}

	var req ListRecordingsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	sessions, total, err := h.recordings.ListByShow(c.Request.Context(), c.Param("showId"), req.Page, req.PageSize)
	if err != nil {
		fail(c, err, "failed to list recordings")
		return
	}

	response.Success(c, ListRecordingsResponse{
		Recordings: sessions,
		Total:      total,
		Page:       req.Page,
		PageSize:   req.PageSize,
	})
}

// GetRecordingEvents returns a recording's camera timeline.
func (h *Handler) GetRecordingEvents(c *gin.Context) {
	if h.recordings == nil {
		response.NotFound(c, "recording catalog disabled")
		return
	}

	session, err := h.recordings.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, "failed to get recording")
		return
	}
	if session.ShowID != c.Param("showId") {
		response.NotFound(c, "recording not found")
		return
	}

	events := session.CameraEvents
	if events == nil {
		events = []domain.CameraEvent{}
	}
	response.Success(c, RecordingEventsResponse{RecordingID: session.ID, Events: events})
}

func slotDetail(slot *domain.SlotID) string {
	if slot == nil {
		return "off"
	}
	return string(*slot)
}
