package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware keys)
	FieldUserID = "user_id"
	FieldRole   = "role"

	// Service
	FieldService   = "service"
	FieldComponent = "component"

	// Broadcast
	FieldShowID      = "show_id"
	FieldSlotID      = "slot_id"
	FieldSessionID   = "session_id"
	FieldRecordingID = "recording_id"
	FieldFixtureID   = "fixture_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
