package domain

import (
	"fmt"
	"time"
)

// SlotID names one of the fixed camera positions.
type SlotID string

const (
	Camera1 SlotID = "camera1"
	Camera2 SlotID = "camera2"
	Camera3 SlotID = "camera3"
	Camera4 SlotID = "camera4"
)

// Slots lists every camera slot in display order.
var Slots = []SlotID{Camera1, Camera2, Camera3, Camera4}

// ParseSlot validates a slot id.
func ParseSlot(s string) (SlotID, error) {
	slot := SlotID(s)
	if !slot.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlot, s)
	}
	return slot, nil
}

// Valid reports whether s is one of the four slots.
func (s SlotID) Valid() bool {
	switch s {
	case Camera1, Camera2, Camera3, Camera4:
		return true
	}
	return false
}

func (s SlotID) String() string { return string(s) }

// BroadcastRoom is the shared signaling document of one show.
type BroadcastRoom struct {
	ShowID         string                       `json:"showId"`
	Cameras        map[SlotID]*CameraConnection `json:"cameras"`
	ActiveCameraID *SlotID                      `json:"activeCameraId"`
	Answers        map[SlotID]*AnswerDescriptor `json:"answers,omitempty"`
	Recording      *RecordingSummary            `json:"recording,omitempty"`
}

// Camera returns the slot's entry, or nil.
func (r *BroadcastRoom) Camera(slot SlotID) *CameraConnection {
	if r == nil || r.Cameras == nil {
		return nil
	}
	return r.Cameras[slot]
}

// IsActive reports whether slot is the live broadcast source.
func (r *BroadcastRoom) IsActive(slot SlotID) bool {
	return r != nil && r.ActiveCameraID != nil && *r.ActiveCameraID == slot
}

// ViewerRoom is the part of a room anonymous viewers may see. Session ids,
// connection descriptors and pending answers stay in the signaling room.
type ViewerRoom struct {
	ShowID         string                   `json:"showId"`
	Cameras        map[SlotID]*ViewerCamera `json:"cameras"`
	ActiveCameraID *SlotID                  `json:"activeCameraId"`
	Recording      *RecordingSummary        `json:"recording,omitempty"`
}

// ViewerCamera is one slot of a ViewerRoom.
type ViewerCamera struct {
	SlotID           SlotID       `json:"slotId"`
	Connected        bool         `json:"connected"`
	DeviceName       string       `json:"deviceName,omitempty"`
	ConnectedAt      *time.Time   `json:"connectedAt,omitempty"`
	FallbackImageURL *string      `json:"fallbackImageUrl"`
	IsUsingFallback  bool         `json:"isUsingFallback"`
	Zoom             *ZoomCommand `json:"zoom,omitempty"`
}

// ForViewers projects the room for viewers.
func (r *BroadcastRoom) ForViewers() *ViewerRoom {
	if r == nil {
		return nil
	}
	out := &ViewerRoom{
		ShowID:         r.ShowID,
		Cameras:        make(map[SlotID]*ViewerCamera, len(r.Cameras)),
		ActiveCameraID: r.ActiveCameraID,
		Recording:      r.Recording,
	}
	for slot, cam := range r.Cameras {
		if cam == nil {
			continue
		}
		out.Cameras[slot] = &ViewerCamera{
			SlotID:           cam.SlotID,
			Connected:        cam.Connected(),
			DeviceName:       cam.DeviceName,
			ConnectedAt:      cam.ConnectedAt,
			FallbackImageURL: cam.FallbackImageURL,
			IsUsingFallback:  cam.IsUsingFallback,
			Zoom:             cam.Zoom,
		}
	}
	return out
}

// Camera returns the slot's entry, or nil.
func (r *ViewerRoom) Camera(slot SlotID) *ViewerCamera {
	if r == nil || r.Cameras == nil {
		return nil
	}
	return r.Cameras[slot]
}

// CameraConnection is the per-slot entry of a room. Fallback fields live
// alongside connection fields but survive an unregister, so an entry may
// exist with no connection.
type CameraConnection struct {
	SlotID               SlotID       `json:"slotId"`
	SessionID            string       `json:"sessionId,omitempty"`
	DeviceName           string       `json:"deviceName,omitempty"`
	ConnectionDescriptor string       `json:"connectionDescriptor,omitempty"`
	ConnectedAt          *time.Time   `json:"connectedAt,omitempty"`
	LastSeenAt           *time.Time   `json:"lastSeenAt,omitempty"`
	FallbackImageURL     *string      `json:"fallbackImageUrl"`
	IsUsingFallback      bool         `json:"isUsingFallback"`
	Zoom                 *ZoomCommand `json:"zoom,omitempty"`
}

// Connected reports whether a camera session currently claims the slot.
func (c *CameraConnection) Connected() bool {
	return c != nil && c.SessionID != ""
}

// Stale reports whether the connection has not been seen within staleAfter.
// A zero staleAfter disables staleness.
func (c *CameraConnection) Stale(now time.Time, staleAfter time.Duration) bool {
	if !c.Connected() || staleAfter <= 0 {
		return false
	}
	seen := c.LastSeenAt
	if seen == nil {
		seen = c.ConnectedAt
	}
	if seen == nil {
		return true
	}
	return now.Sub(*seen) > staleAfter
}

// HasFallbackImage reports whether a fallback image is stored for the slot.
func (c *CameraConnection) HasFallbackImage() bool {
	return c != nil && c.FallbackImageURL != nil && *c.FallbackImageURL != ""
}

// ZoomCommand is a fire-and-forget zoom request for the active camera.
type ZoomCommand struct {
	Level       float64   `json:"level"`
	RequestedAt time.Time `json:"requestedAt"`
}

// AnswerDescriptor is the director's answer to one camera session's offer.
type AnswerDescriptor struct {
	SessionID  string    `json:"sessionId"`
	Descriptor string    `json:"descriptor"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EffectiveSource is what viewers render for a slot.
type EffectiveSource string

const (
	SourceFallback EffectiveSource = "fallback"
	SourceLive     EffectiveSource = "live"
	SourceNoSignal EffectiveSource = "no-signal"
)
