package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
)

// Match document field paths.
const (
	FieldStartedAt = "clock.startedAt"
	FieldOffsetMs  = "clock.offsetMs"
	FieldIsRunning = "clock.isRunning"
	FieldPeriod    = "clock.period"
	FieldAddedTime = "clock.addedTime"
	FieldStatus    = "status"
)

// MatchPath returns the store path of a fixture's match document.
func MatchPath(fixtureID string) string {
	return "matches/" + fixtureID
}

// DecodeState reads the clock fields of a match document. Absent fields take
// their zero value; an absent status means the match has not started.
func DecodeState(doc signaling.Document) (LiveClockState, error) {
	var s LiveClockState
	fields := []struct {
		name string
		out  interface{}
	}{
		{FieldStartedAt, &s.StartedAt},
		{FieldOffsetMs, &s.OffsetMs},
		{FieldIsRunning, &s.IsRunning},
		{FieldPeriod, &s.Period},
		{FieldAddedTime, &s.AddedTime},
		{FieldStatus, &s.Status},
	}
	for _, f := range fields {
		if _, err := doc.Decode(f.name, f.out); err != nil {
			return LiveClockState{}, err
		}
	}
	if s.Status == "" {
		s.Status = StatusNotStarted
	}
	if s.Period == "" {
		s.Period = PeriodFirst
	}
	return s, nil
}

// Controller applies privileged clock actions. Every action is a
// field-scoped atomic update of the match document.
type Controller struct {
	store signaling.Store
	now   func() time.Time
}

// NewController creates a Controller.
func NewController(store signaling.Store, now func() time.Time) *Controller {
	if now == nil {
		now = time.Now
	}
	return &Controller{store: store, now: now}
}

// State returns the current clock of a fixture.
func (c *Controller) State(ctx context.Context, fixtureID string) (LiveClockState, error) {
	doc, err := c.store.GetDocument(ctx, MatchPath(fixtureID))
	if errors.Is(err, domain.ErrNotFound) {
		return DecodeState(signaling.Document{})
	}
	if err != nil {
		return LiveClockState{}, err
	}
	return DecodeState(doc)
}

// Start kicks off the first period.
func (c *Controller) Start(ctx context.Context, fixtureID string) (LiveClockState, error) {
	now := c.now().UTC()
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		if s.Status != StatusNotStarted {
			return nil, invalid("start", s)
		}
		return []signaling.Op{
			signaling.Set(FieldStatus, StatusLive),
			signaling.Set(FieldPeriod, PeriodFirst),
			signaling.Set(FieldOffsetMs, 0),
			signaling.Set(FieldStartedAt, now),
			signaling.Set(FieldIsRunning, true),
			signaling.Set(FieldAddedTime, 0),
		}, nil
	})
}

// Pause freezes the elapsed time into the offset.
func (c *Controller) Pause(ctx context.Context, fixtureID string) (LiveClockState, error) {
	now := c.now().UTC()
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		if !s.IsRunning {
			return nil, invalid("pause", s)
		}
		return freeze(s, now), nil
	})
}

// Resume re-anchors a paused clock at now.
func (c *Controller) Resume(ctx context.Context, fixtureID string) (LiveClockState, error) {
	now := c.now().UTC()
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		if s.IsRunning || s.Status != StatusLive {
			return nil, invalid("resume", s)
		}
		return []signaling.Op{
			signaling.Set(FieldStartedAt, now),
			signaling.Set(FieldIsRunning, true),
		}, nil
	})
}

// AdvancePeriod moves to period p. The clock is stopped and its offset set
// to the period's start minute; added time is reset.
func (c *Controller) AdvancePeriod(ctx context.Context, fixtureID string, p Period) (LiveClockState, error) {
	if !p.Valid() {
		return LiveClockState{}, fmt.Errorf("%w: period %q", domain.ErrInvalidArgument, p)
	}
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		if s.Status == StatusNotStarted || s.Status == StatusFullTime || s.Status == StatusCancelled {
			return nil, invalid("advance period", s)
		}
		return []signaling.Op{
			signaling.Set(FieldPeriod, p),
			signaling.Set(FieldOffsetMs, int64(p.StartMinute())*time.Minute.Milliseconds()),
			signaling.Set(FieldStartedAt, nil),
			signaling.Set(FieldIsRunning, false),
			signaling.Set(FieldAddedTime, 0),
			signaling.Set(FieldStatus, StatusLive),
		}, nil
	})
}

// SetAddedTime records the announced added minutes of the current period.
func (c *Controller) SetAddedTime(ctx context.Context, fixtureID string, minutes int) (LiveClockState, error) {
	if minutes < 0 || minutes > 30 {
		return LiveClockState{}, fmt.Errorf("%w: added time %d", domain.ErrInvalidArgument, minutes)
	}
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		return []signaling.Op{signaling.Set(FieldAddedTime, minutes)}, nil
	})
}

// SetStatus changes the match status. Leaving live stops a running clock
// with its elapsed time preserved.
func (c *Controller) SetStatus(ctx context.Context, fixtureID string, status Status) (LiveClockState, error) {
	if !status.Valid() {
		return LiveClockState{}, fmt.Errorf("%w: status %q", domain.ErrInvalidArgument, status)
	}
	now := c.now().UTC()
	return c.update(ctx, fixtureID, func(s LiveClockState) ([]signaling.Op, error) {
		ops := []signaling.Op{signaling.Set(FieldStatus, status)}
		if status != StatusLive && s.IsRunning {
			ops = append(ops, freeze(s, now)...)
		}
		return ops, nil
	})
}

func (c *Controller) update(ctx context.Context, fixtureID string, fn func(LiveClockState) ([]signaling.Op, error)) (LiveClockState, error) {
	path := MatchPath(fixtureID)
	err := c.store.Update(ctx, path, func(doc signaling.Document) ([]signaling.Op, error) {
		s, err := DecodeState(doc)
		if err != nil {
			return nil, err
		}
		return fn(s)
	})
	if err != nil {
		return LiveClockState{}, err
	}
	return c.State(ctx, fixtureID)
}

func freeze(s LiveClockState, now time.Time) []signaling.Op {
	return []signaling.Op{
		signaling.Set(FieldOffsetMs, Elapsed(s, now).Milliseconds()),
		signaling.Set(FieldStartedAt, nil),
		signaling.Set(FieldIsRunning, false),
	}
}

func invalid(op string, s LiveClockState) error {
	return fmt.Errorf("%w: cannot %s clock (status=%s running=%t)", domain.ErrInvalidStateTransition, op, s.Status, s.IsRunning)
}
