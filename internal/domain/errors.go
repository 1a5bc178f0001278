package domain

import (
	"errors"
	"fmt"
)

// Precondition errors. These are contract violations returned synchronously
// to the caller and never absorbed.
var (
	ErrSlotOccupied           = errors.New("camera slot is occupied by a live connection")
	ErrNoFallbackImage        = errors.New("no fallback image uploaded for slot")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInvalidSlot            = errors.New("invalid camera slot")
	ErrCameraNotConnected     = errors.New("camera slot has no connection")
	ErrNoActiveCamera         = errors.New("no active camera")
	ErrNotFound               = errors.New("not found")
	ErrInvalidArgument        = errors.New("invalid argument")
)

// Transport and storage failures.
var (
	ErrStorageUpload     = errors.New("storage upload failed")
	ErrRecordingFinalize = errors.New("recording finalize failed")
	ErrStaleDescriptor   = errors.New("stale connection descriptor")
)

// TransitionError describes a rejected state machine operation.
type TransitionError struct {
	Op   string
	From RecordingStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot %s while %s", ErrInvalidStateTransition, e.Op, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidStateTransition
}
