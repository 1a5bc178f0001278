package broadcast

import (
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
)

// Room document field paths.
const (
	FieldActiveCamera = "activeCameraId"
	FieldRecording    = "recording"

	fieldCameras = "cameras"
	fieldAnswers = "answers"
)

// Per-camera field names below cameras.<slot>.
const (
	CamSessionID   = "sessionId"
	CamDeviceName  = "deviceName"
	CamDescriptor  = "connectionDescriptor"
	CamConnectedAt = "connectedAt"
	CamLastSeenAt  = "lastSeenAt"
	CamFallbackURL = "fallbackImageUrl"
	CamUseFallback = "isUsingFallback"
	CamZoom        = "zoom"
)

// connectionFields are cleared on unregister. Fallback fields are not.
var connectionFields = []string{
	CamSessionID, CamDeviceName, CamDescriptor, CamConnectedAt, CamLastSeenAt, CamZoom,
}

// RoomPath returns the store path of a show's room document.
func RoomPath(showID string) string {
	return "rooms/" + showID
}

// CameraField returns the field path of one camera attribute.
func CameraField(slot domain.SlotID, name string) string {
	return fmt.Sprintf("%s.%s.%s", fieldCameras, slot, name)
}

func answerField(slot domain.SlotID) string {
	return fmt.Sprintf("%s.%s", fieldAnswers, slot)
}

// DecodeRoom builds a BroadcastRoom from a room document.
func DecodeRoom(showID string, doc signaling.Document) (*domain.BroadcastRoom, error) {
	room := &domain.BroadcastRoom{
		ShowID:  showID,
		Cameras: make(map[domain.SlotID]*domain.CameraConnection),
		Answers: make(map[domain.SlotID]*domain.AnswerDescriptor),
	}

	var active domain.SlotID
	ok, err := doc.Decode(FieldActiveCamera, &active)
	if err != nil {
		return nil, err
	}
	if ok && active.Valid() {
		room.ActiveCameraID = &active
	}

	for _, slot := range domain.Slots {
		cam, err := DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		if cam != nil {
			room.Cameras[slot] = cam
		}

		var answer domain.AnswerDescriptor
		ok, err := doc.Decode(answerField(slot), &answer)
		if err != nil {
			return nil, err
		}
		if ok {
			room.Answers[slot] = &answer
		}
	}

	var rec domain.RecordingSummary
	ok, err = doc.Decode(FieldRecording, &rec)
	if err != nil {
		return nil, err
	}
	if ok {
		room.Recording = &rec
	}

	return room, nil
}

// DecodeCamera reads one slot's entry, or nil when the slot has no fields.
func DecodeCamera(doc signaling.Document, slot domain.SlotID) (*domain.CameraConnection, error) {
	fields := doc.Sub(fmt.Sprintf("%s.%s", fieldCameras, slot))
	if len(fields) == 0 {
		return nil, nil
	}

	cam := &domain.CameraConnection{SlotID: slot}
	decoders := []struct {
		name string
		out  interface{}
	}{
		{CamSessionID, &cam.SessionID},
		{CamDeviceName, &cam.DeviceName},
		{CamDescriptor, &cam.ConnectionDescriptor},
		{CamFallbackURL, &cam.FallbackImageURL},
		{CamUseFallback, &cam.IsUsingFallback},
		{CamZoom, &cam.Zoom},
	}
	for _, d := range decoders {
		if _, err := fields.Decode(d.name, d.out); err != nil {
			return nil, err
		}
	}

	var connectedAt, lastSeenAt time.Time
	if ok, err := fields.Decode(CamConnectedAt, &connectedAt); err != nil {
		return nil, err
	} else if ok {
		cam.ConnectedAt = &connectedAt
	}
	if ok, err := fields.Decode(CamLastSeenAt, &lastSeenAt); err != nil {
		return nil, err
	} else if ok {
		cam.LastSeenAt = &lastSeenAt
	}

	return cam, nil
}
