// Package audit records privileged control actions in the structured log.
package audit

import (
	"context"

	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// Audit actions for privileged control operations.
const (
	ActionCameraSwitch   = "camera.switch"
	ActionCameraKick     = "camera.kick"
	ActionCameraZoom     = "camera.zoom"
	ActionFallbackUpload = "fallback.upload"
	ActionFallbackRemove = "fallback.remove"
	ActionFallbackToggle = "fallback.toggle"
	ActionRecordingStart = "recording.start"
	ActionRecordingStop  = "recording.stop"
	ActionClockStart     = "clock.start"
	ActionClockPause     = "clock.pause"
	ActionClockResume    = "clock.resume"
	ActionClockPeriod    = "clock.period"
	ActionClockAddedTime = "clock.added_time"
	ActionClockStatus    = "clock.status"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// LogWithDetail writes an audit entry for a privileged control action on
// the request logger. An empty detail is omitted.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	ev := l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID)
	if detail != "" {
		ev = ev.Str(FieldDetail, detail)
	}
	ev.Msg(msg)
}
