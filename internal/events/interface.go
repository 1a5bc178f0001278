package events

import "context"

// BroadcastEvent is a change in a show's broadcast state.
type BroadcastEvent struct {
	Type        string `json:"type"`
	ShowID      string `json:"show_id"`
	SlotID      string `json:"slot_id,omitempty"`
	FromSlotID  string `json:"from_slot_id,omitempty"`
	FallbackOn  *bool  `json:"fallback_on,omitempty"`
	RecordingID string `json:"recording_id,omitempty"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Event types
const (
	EventCameraSwitched    = "camera_switched"
	EventFallbackToggled   = "fallback_toggled"
	EventRecordingStarted  = "recording_started"
	EventRecordingFinished = "recording_finished"
	EventRecordingFailed   = "recording_failed"
)

// Producer publishes broadcast events.
type Producer interface {
	Produce(ctx context.Context, event *BroadcastEvent) error
	Close() error
}
