// Package clock derives a match's elapsed time from an anchor timestamp and
// an accumulated offset so every viewer computes the same display locally.
package clock

import (
	"fmt"
	"time"
)

// Period of play.
type Period string

const (
	PeriodFirst     Period = "first"
	PeriodSecond    Period = "second"
	PeriodET1       Period = "et1"
	PeriodET2       Period = "et2"
	PeriodPenalties Period = "penalties"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodFirst, PeriodSecond, PeriodET1, PeriodET2, PeriodPenalties:
		return true
	}
	return false
}

// Boundary returns the nominal end minute of the period. Penalties have none.
func (p Period) Boundary() (int, bool) {
	switch p {
	case PeriodFirst:
		return 45, true
	case PeriodSecond:
		return 90, true
	case PeriodET1:
		return 105, true
	case PeriodET2:
		return 120, true
	}
	return 0, false
}

// StartMinute is the match minute a period kicks off at.
func (p Period) StartMinute() int {
	switch p {
	case PeriodSecond:
		return 45
	case PeriodET1:
		return 90
	case PeriodET2, PeriodPenalties:
		return 105
	}
	return 0
}

// Status of the match.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusLive       Status = "live"
	StatusHalfTime   Status = "half_time"
	StatusFullTime   Status = "full_time"
	StatusPostponed  Status = "postponed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusLive, StatusHalfTime, StatusFullTime, StatusPostponed, StatusCancelled:
		return true
	}
	return false
}

var statusLabels = map[Status]string{
	StatusNotStarted: "Not Started",
	StatusHalfTime:   "HT",
	StatusFullTime:   "FT",
	StatusPostponed:  "Postponed",
	StatusCancelled:  "Cancelled",
}

// LiveClockState is the stored clock of one match.
type LiveClockState struct {
	StartedAt *time.Time `json:"startedAt"`
	OffsetMs  int64      `json:"offsetMs"`
	IsRunning bool       `json:"isRunning"`
	Period    Period     `json:"period"`
	AddedTime int        `json:"addedTime"`
	Status    Status     `json:"status"`
}

// Live reports whether the match is in a live status.
func (s LiveClockState) Live() bool {
	return s.Status == StatusLive
}

// Elapsed returns the match time at now. A stopped clock is frozen at its
// offset; a running clock without an anchor is treated as stopped until an
// anchor appears. Anchors in the future count as zero.
func Elapsed(s LiveClockState, now time.Time) time.Duration {
	offset := time.Duration(s.OffsetMs) * time.Millisecond
	if offset < 0 {
		offset = 0
	}
	if !s.IsRunning || s.StartedAt == nil {
		return offset
	}
	running := now.Sub(*s.StartedAt)
	if running < 0 {
		running = 0
	}
	return offset + running
}

// Display renders the clock for viewers. Non-live statuses show a fixed
// label. Within a period the display is MM:SS; from the period's boundary
// on it is "B+N'" with N whole minutes past B.
func Display(s LiveClockState, now time.Time) string {
	if s.Status != StatusLive {
		if label, ok := statusLabels[s.Status]; ok {
			return label
		}
		return statusLabels[StatusNotStarted]
	}
	if s.Period == PeriodPenalties {
		return "PEN"
	}

	elapsed := Elapsed(s, now)
	minutes := int(elapsed / time.Minute)
	if boundary, ok := s.Period.Boundary(); ok && minutes >= boundary {
		return fmt.Sprintf("%d+%d'", boundary, minutes-boundary)
	}
	seconds := int((elapsed % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// PeriodExpired reports whether the period has run past its boundary plus
// the announced added time. It drives operator affordances only; the clock
// keeps counting.
func PeriodExpired(s LiveClockState, now time.Time) bool {
	boundary, ok := s.Period.Boundary()
	if !ok || s.Status != StatusLive {
		return false
	}
	limit := time.Duration(boundary+s.AddedTime) * time.Minute
	return Elapsed(s, now) >= limit
}

// Reading is one derived view of the clock.
type Reading struct {
	ElapsedMs     int64          `json:"elapsedMs"`
	Display       string         `json:"display"`
	PeriodExpired bool           `json:"periodExpired"`
	State         LiveClockState `json:"state"`
}

// Read derives a Reading at now.
func Read(s LiveClockState, now time.Time) Reading {
	return Reading{
		ElapsedMs:     Elapsed(s, now).Milliseconds(),
		Display:       Display(s, now),
		PeriodExpired: PeriodExpired(s, now),
		State:         s,
	}
}
