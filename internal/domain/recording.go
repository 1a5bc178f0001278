package domain

import "time"

// RecordingStatus is the state of a recording engine.
type RecordingStatus string

const (
	RecordingIdle       RecordingStatus = "idle"
	RecordingActive     RecordingStatus = "recording"
	RecordingFinalizing RecordingStatus = "finalizing"
	RecordingCompleted  RecordingStatus = "completed"
	RecordingFailed     RecordingStatus = "failed"
)

// Terminal reports whether no further transition happens without a restart.
func (s RecordingStatus) Terminal() bool {
	return s == RecordingCompleted || s == RecordingFailed
}

// CameraEventType tags timeline entries.
type CameraEventType string

const (
	EventCameraSwitch   CameraEventType = "camera-switch"
	EventFallbackToggle CameraEventType = "fallback-toggle"
)

// CameraEvent is one entry of a recording's timeline. TimestampMs is
// relative to the recording's start.
type CameraEvent struct {
	Type             CameraEventType `json:"type"`
	TimestampMs      int64           `json:"timestampMs"`
	FromCameraID     *SlotID         `json:"fromCameraId,omitempty"`
	ToCameraID       *SlotID         `json:"toCameraId,omitempty"`
	CameraID         *SlotID         `json:"cameraId,omitempty"`
	IsFallbackOn     *bool           `json:"isFallbackOn,omitempty"`
	FallbackImageURL *string         `json:"fallbackImageUrl,omitempty"`
}

// RecordingSession is the engine-owned record of one recording.
type RecordingSession struct {
	ID             string          `json:"id"`
	ShowID         string          `json:"showId"`
	SourceCameraID SlotID          `json:"sourceCameraId"`
	StartedAt      time.Time       `json:"startedAt"`
	CameraEvents   []CameraEvent   `json:"cameraEvents"`
	Status         RecordingStatus `json:"status"`
	DurationMs     int64           `json:"durationMs"`
	ArtifactURL    string          `json:"artifactUrl,omitempty"`
	EventsURL      string          `json:"eventsUrl,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// StartedAtMs is the wall-clock anchor in Unix milliseconds.
func (s *RecordingSession) StartedAtMs() int64 {
	return s.StartedAt.UnixMilli()
}

// Summary projects the session into the room document.
func (s *RecordingSession) Summary() *RecordingSummary {
	return &RecordingSummary{
		ID:          s.ID,
		Status:      s.Status,
		StartedAtMs: s.StartedAtMs(),
		DurationMs:  s.DurationMs,
		ArtifactURL: s.ArtifactURL,
		EventsURL:   s.EventsURL,
	}
}

// RecordingSummary is the recording state published into the room so that
// later playback can find the artifact.
type RecordingSummary struct {
	ID          string          `json:"id"`
	Status      RecordingStatus `json:"status"`
	StartedAtMs int64           `json:"startedAtMs"`
	DurationMs  int64           `json:"durationMs,omitempty"`
	ArtifactURL string          `json:"artifactUrl,omitempty"`
	EventsURL   string          `json:"eventsUrl,omitempty"`
}

// SlotPtr returns a pointer to s.
func SlotPtr(s SlotID) *SlotID { return &s }
