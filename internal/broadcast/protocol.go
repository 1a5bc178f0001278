// Package broadcast implements camera registration, active-camera switching,
// the answer exchange and the zoom relay on top of a shared room document.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// Config holds protocol tunables.
type Config struct {
	// StaleAfter is how long a connection may go without a heartbeat before
	// another camera may claim its slot. Zero disables takeover.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// Protocol is the room-level state machine shared by cameras and directors.
type Protocol struct {
	store      signaling.Store
	staleAfter time.Duration
	now        func() time.Time
	reads      singleflight.Group
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// NewProtocol creates a Protocol on store.
func NewProtocol(store signaling.Store, cfg Config, opts ...Option) *Protocol {
	p := &Protocol{
		store:      store,
		staleAfter: cfg.StaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store returns the underlying signaling store.
func (p *Protocol) Store() signaling.Store {
	return p.store
}

// Now returns the protocol's current time.
func (p *Protocol) Now() time.Time {
	return p.now()
}

// RegisterCamera claims slot with a fresh session. It fails with
// ErrSlotOccupied while another non-stale session holds the slot. Any answer
// left over from a previous connection is discarded.
func (p *Protocol) RegisterCamera(ctx context.Context, showID string, slot domain.SlotID, deviceName, descriptor string) (*domain.CameraConnection, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}
	if descriptor == "" {
		return nil, fmt.Errorf("%w: empty connection descriptor", domain.ErrInvalidArgument)
	}

	now := p.now().UTC()
	conn := &domain.CameraConnection{
		SlotID:               slot,
		SessionID:            uuid.New().String(),
		DeviceName:           deviceName,
		ConnectionDescriptor: descriptor,
		ConnectedAt:          &now,
		LastSeenAt:           &now,
	}

	err := p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		existing, err := DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		if existing.Connected() && !existing.Stale(now, p.staleAfter) {
			return nil, fmt.Errorf("%w: %s held by %q", domain.ErrSlotOccupied, slot, existing.DeviceName)
		}
		if existing != nil {
			conn.FallbackImageURL = existing.FallbackImageURL
			conn.IsUsingFallback = existing.IsUsingFallback
		}

		return []signaling.Op{
			signaling.Set(CameraField(slot, CamSessionID), conn.SessionID),
			signaling.Set(CameraField(slot, CamDeviceName), deviceName),
			signaling.Set(CameraField(slot, CamDescriptor), descriptor),
			signaling.Set(CameraField(slot, CamConnectedAt), now),
			signaling.Set(CameraField(slot, CamLastSeenAt), now),
			signaling.Delete(CameraField(slot, CamZoom)),
			signaling.Delete(answerField(slot)),
		}, nil
	})
	if err != nil {
		return nil, err
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldShowID, showID).
		Str(log.FieldSlotID, string(slot)).
		Str(log.FieldSessionID, conn.SessionID).
		Str("device_name", deviceName).
		Msg("camera registered")

	return conn, nil
}

// UnregisterCamera removes the slot's connection. With a non-empty sessionID
// the call only acts while that session still owns the slot. If the slot was
// live the broadcast is switched off in the same update. Fallback settings
// for the slot are kept.
func (p *Protocol) UnregisterCamera(ctx context.Context, showID string, slot domain.SlotID, sessionID string) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSlot, slot)
	}

	wasActive := false
	err := p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		cam, err := DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		if !cam.Connected() || (sessionID != "" && cam.SessionID != sessionID) {
			return nil, nil
		}

		ops := make([]signaling.Op, 0, len(connectionFields)+2)
		for _, name := range connectionFields {
			ops = append(ops, signaling.Delete(CameraField(slot, name)))
		}
		ops = append(ops, signaling.Delete(answerField(slot)))

		var active domain.SlotID
		if ok, _ := doc.Decode(FieldActiveCamera, &active); ok && active == slot {
			wasActive = true
			ops = append(ops, signaling.Set(FieldActiveCamera, nil))
		}
		return ops, nil
	})
	if err != nil {
		return err
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldShowID, showID).
		Str(log.FieldSlotID, string(slot)).
		Bool("was_active", wasActive).
		Msg("camera unregistered")
	return nil
}

// Heartbeat refreshes lastSeenAt while sessionID still owns the slot. A
// session that lost its slot gets ErrStaleDescriptor and must re-register.
func (p *Protocol) Heartbeat(ctx context.Context, showID string, slot domain.SlotID, sessionID string) error {
	now := p.now().UTC()
	return p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		cam, err := DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		if !cam.Connected() || cam.SessionID != sessionID {
			return nil, fmt.Errorf("%w: session %s no longer owns %s", domain.ErrStaleDescriptor, sessionID, slot)
		}
		return []signaling.Op{signaling.Set(CameraField(slot, CamLastSeenAt), now)}, nil
	})
}

// SetActiveCamera selects the live slot, or switches the broadcast off when
// slot is nil. Selecting the current slot again writes nothing. Concurrent
// callers are not ordered: the last write the store observes wins.
// It returns the previously active slot.
func (p *Protocol) SetActiveCamera(ctx context.Context, showID string, slot *domain.SlotID) (*domain.SlotID, error) {
	if slot != nil && !slot.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSlot, *slot)
	}

	var previous *domain.SlotID
	err := p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		previous = nil
		var current domain.SlotID
		if ok, err := doc.Decode(FieldActiveCamera, &current); err != nil {
			return nil, err
		} else if ok {
			previous = &current
		}

		if slot != nil {
			cam, err := DecodeCamera(doc, *slot)
			if err != nil {
				return nil, err
			}
			if !cam.Connected() {
				return nil, fmt.Errorf("%w: %s", domain.ErrCameraNotConnected, *slot)
			}
		}

		if sameSlot(previous, slot) {
			return nil, nil
		}
		if slot == nil {
			return []signaling.Op{signaling.Set(FieldActiveCamera, nil)}, nil
		}
		return []signaling.Op{signaling.Set(FieldActiveCamera, *slot)}, nil
	})
	if err != nil {
		return nil, err
	}
	return previous, nil
}

// RequestZoom sends a zoom command to the active camera. There is no
// acknowledgment; a newer command simply replaces an older one.
func (p *Protocol) RequestZoom(ctx context.Context, showID string, level float64) error {
	if level < 1 {
		return fmt.Errorf("%w: zoom level %.2f below 1", domain.ErrInvalidArgument, level)
	}

	cmd := domain.ZoomCommand{Level: level, RequestedAt: p.now().UTC()}
	return p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		var active domain.SlotID
		ok, err := doc.Decode(FieldActiveCamera, &active)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrNoActiveCamera
		}
		return []signaling.Op{signaling.Set(CameraField(active, CamZoom), cmd)}, nil
	})
}

// PublishAnswer stores the director's answer for the camera session that
// made the offer.
func (p *Protocol) PublishAnswer(ctx context.Context, showID string, slot domain.SlotID, sessionID, descriptor string) error {
	answer := domain.AnswerDescriptor{
		SessionID:  sessionID,
		Descriptor: descriptor,
		CreatedAt:  p.now().UTC(),
	}
	return p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		cam, err := DecodeCamera(doc, slot)
		if err != nil {
			return nil, err
		}
		if !cam.Connected() || cam.SessionID != sessionID {
			return nil, fmt.Errorf("%w: %s moved on from session %s", domain.ErrStaleDescriptor, slot, sessionID)
		}
		return []signaling.Op{signaling.Set(answerField(slot), answer)}, nil
	})
}

// ConsumeAnswer takes the answer addressed to sessionID, removing it from the
// room so it is never applied twice. It returns ErrNotFound when no answer is
// pending and ErrStaleDescriptor when the pending answer belongs to a
// different session.
func (p *Protocol) ConsumeAnswer(ctx context.Context, showID string, slot domain.SlotID, sessionID string) (*domain.AnswerDescriptor, error) {
	var answer domain.AnswerDescriptor
	err := p.store.Update(ctx, RoomPath(showID), func(doc signaling.Document) ([]signaling.Op, error) {
		ok, err := doc.Decode(answerField(slot), &answer)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("answer for %s: %w", slot, domain.ErrNotFound)
		}
		if answer.SessionID != sessionID {
			return nil, fmt.Errorf("%w: answer for %s addresses session %s", domain.ErrStaleDescriptor, slot, answer.SessionID)
		}
		return []signaling.Op{signaling.Delete(answerField(slot))}, nil
	})
	if err != nil {
		return nil, err
	}
	return &answer, nil
}

// SetRecording publishes a recording summary into the room.
func (p *Protocol) SetRecording(ctx context.Context, showID string, summary *domain.RecordingSummary) error {
	return p.store.SetField(ctx, RoomPath(showID), FieldRecording, summary)
}

// Room returns the current room. A room nobody has written to yet is empty
// rather than missing. Concurrent reads of the same room share one fetch.
func (p *Protocol) Room(ctx context.Context, showID string) (*domain.BroadcastRoom, error) {
	v, err, _ := p.reads.Do(showID, func() (interface{}, error) {
		doc, err := p.store.GetDocument(ctx, RoomPath(showID))
		if errors.Is(err, domain.ErrNotFound) {
			doc = signaling.Document{}
		} else if err != nil {
			return nil, err
		}
		return DecodeRoom(showID, doc)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.BroadcastRoom), nil
}

// ActiveCamera reads the live slot straight from the store. Unlike Room
// it never shares a fetch that started before the call.
func (p *Protocol) ActiveCamera(ctx context.Context, showID string) (*domain.SlotID, error) {
	doc, err := p.store.GetDocument(ctx, RoomPath(showID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var active domain.SlotID
	ok, err := doc.Decode(FieldActiveCamera, &active)
	if err != nil || !ok {
		return nil, err
	}
	return &active, nil
}

// Watch calls fn with the decoded room on every change until the returned
// func is called.
func (p *Protocol) Watch(ctx context.Context, showID string, fn func(*domain.BroadcastRoom)) (func(), error) {
	l := log.Ctx(ctx)
	return p.store.Subscribe(ctx, RoomPath(showID), func(doc signaling.Document) {
		room, err := DecodeRoom(showID, doc)
		if err != nil {
			l.Error().Err(err).Str(log.FieldShowID, showID).Msg("failed to decode room")
			return
		}
		fn(room)
	})
}

func sameSlot(a, b *domain.SlotID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
