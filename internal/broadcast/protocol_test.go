package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
)

const show = "fixture-7"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 2, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newProtocol(t *testing.T, staleAfter time.Duration) (*Protocol, *signaling.MemoryStore, *fakeClock) {
	t.Helper()
	store := signaling.NewMemoryStore()
	clk := newFakeClock()
	return NewProtocol(store, Config{StaleAfter: staleAfter}, WithClock(clk.Now)), store, clk
}

func TestRegisterCamera(t *testing.T) {
	ctx := context.Background()
	p, _, clk := newProtocol(t, 0)

	conn, err := p.RegisterCamera(ctx, show, domain.Camera2, "Sideline", "offer-sdp")
	require.NoError(t, err)
	assert.NotEmpty(t, conn.SessionID)
	assert.Equal(t, clk.Now(), *conn.ConnectedAt)

	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	cam := room.Camera(domain.Camera2)
	require.NotNil(t, cam)
	assert.Equal(t, conn.SessionID, cam.SessionID)
	assert.Equal(t, "Sideline", cam.DeviceName)
	assert.Equal(t, "offer-sdp", cam.ConnectionDescriptor)
	assert.Nil(t, room.ActiveCameraID)
}

func TestRegisterCamera_Validation(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	_, err := p.RegisterCamera(ctx, show, "camera5", "x", "offer")
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)

	_, err = p.RegisterCamera(ctx, show, domain.Camera1, "x", "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRegisterCamera_SlotOccupied(t *testing.T) {
	ctx := context.Background()
	p, _, clk := newProtocol(t, 10*time.Second)

	first, err := p.RegisterCamera(ctx, show, domain.Camera1, "Phone A", "offer-a")
	require.NoError(t, err)

	_, err = p.RegisterCamera(ctx, show, domain.Camera1, "Phone B", "offer-b")
	assert.ErrorIs(t, err, domain.ErrSlotOccupied)

	clk.Advance(5 * time.Second)
	require.NoError(t, p.Heartbeat(ctx, show, domain.Camera1, first.SessionID))
	clk.Advance(8 * time.Second)
	_, err = p.RegisterCamera(ctx, show, domain.Camera1, "Phone B", "offer-b")
	assert.ErrorIs(t, err, domain.ErrSlotOccupied, "heartbeat keeps the slot")

	clk.Advance(5 * time.Second)
	second, err := p.RegisterCamera(ctx, show, domain.Camera1, "Phone B", "offer-b")
	require.NoError(t, err, "stale connection can be replaced")
	assert.NotEqual(t, first.SessionID, second.SessionID)

	err = p.Heartbeat(ctx, show, domain.Camera1, first.SessionID)
	assert.ErrorIs(t, err, domain.ErrStaleDescriptor)
}

func TestUnregisterActiveCameraStopsBroadcast(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	conn, err := p.RegisterCamera(ctx, show, domain.Camera2, "Goal cam", "offer")
	require.NoError(t, err)
	_, err = p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera2))
	require.NoError(t, err)

	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera2, conn.SessionID))

	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	assert.Nil(t, room.ActiveCameraID)
	assert.False(t, room.Camera(domain.Camera2).Connected())
}

func TestUnregisterInactiveCameraKeepsBroadcast(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	_, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer")
	require.NoError(t, err)
	c3, err := p.RegisterCamera(ctx, show, domain.Camera3, "Wide", "offer")
	require.NoError(t, err)
	_, err = p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera1))
	require.NoError(t, err)

	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera3, c3.SessionID))

	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	require.NotNil(t, room.ActiveCameraID)
	assert.Equal(t, domain.Camera1, *room.ActiveCameraID)
}

func TestUnregisterIgnoresForeignSession(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	conn, err := p.RegisterCamera(ctx, show, domain.Camera4, "Drone", "offer")
	require.NoError(t, err)

	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera4, "someone-else"))
	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	assert.Equal(t, conn.SessionID, room.Camera(domain.Camera4).SessionID)

	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera4, ""))
	room, err = p.Room(ctx, show)
	require.NoError(t, err)
	assert.False(t, room.Camera(domain.Camera4).Connected())
}

func TestNoResurrectionAfterUnregister(t *testing.T) {
	ctx := context.Background()
	p, _, clk := newProtocol(t, 0)

	var lastUnregister time.Time
	for i := 0; i < 3; i++ {
		conn, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer")
		require.NoError(t, err)
		clk.Advance(time.Second)

		require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera1, conn.SessionID))
		lastUnregister = clk.Now()
		clk.Advance(time.Second)

		// A late heartbeat from the old session must not bring the entry back.
		err = p.Heartbeat(ctx, show, domain.Camera1, conn.SessionID)
		assert.ErrorIs(t, err, domain.ErrStaleDescriptor)

		room, err := p.Room(ctx, show)
		require.NoError(t, err)
		cam := room.Camera(domain.Camera1)
		if cam.Connected() {
			assert.False(t, cam.ConnectedAt.Before(lastUnregister))
		}
	}
}

func TestSetActiveCamera_Idempotent(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newProtocol(t, 0)

	_, err := p.RegisterCamera(ctx, show, domain.Camera3, "Wide", "offer")
	require.NoError(t, err)

	prev, err := p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera3))
	require.NoError(t, err)
	assert.Nil(t, prev)
	once, err := store.GetDocument(ctx, RoomPath(show))
	require.NoError(t, err)

	prev, err = p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera3))
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, domain.Camera3, *prev)
	twice, err := store.GetDocument(ctx, RoomPath(show))
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestSetActiveCamera_Preconditions(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	_, err := p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera1))
	assert.ErrorIs(t, err, domain.ErrCameraNotConnected)

	_, err = p.SetActiveCamera(ctx, show, domain.SlotPtr("camera9"))
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)

	_, err = p.SetActiveCamera(ctx, show, nil)
	assert.NoError(t, err, "switching off an idle room is a no-op")
}

func TestSetActiveCamera_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	directorA := NewProtocol(store, Config{})
	directorB := NewProtocol(store, Config{})

	_, err := directorA.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer")
	require.NoError(t, err)
	_, err = directorA.RegisterCamera(ctx, show, domain.Camera2, "Wide", "offer")
	require.NoError(t, err)

	_, err = directorA.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera1))
	require.NoError(t, err)
	_, err = directorB.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera2))
	require.NoError(t, err, "a competing director is not rejected")

	room, err := directorA.Room(ctx, show)
	require.NoError(t, err)
	assert.Equal(t, domain.Camera2, *room.ActiveCameraID)

	var wg sync.WaitGroup
	for _, d := range []struct {
		p    *Protocol
		slot domain.SlotID
	}{{directorA, domain.Camera1}, {directorB, domain.Camera2}} {
		wg.Add(1)
		go func(p *Protocol, slot domain.SlotID) {
			defer wg.Done()
			_, err := p.SetActiveCamera(ctx, show, &slot)
			assert.NoError(t, err)
		}(d.p, d.slot)
	}
	wg.Wait()

	room, err = directorA.Room(ctx, show)
	require.NoError(t, err)
	assert.Contains(t, []domain.SlotID{domain.Camera1, domain.Camera2}, *room.ActiveCameraID)
}

func TestAnswerExchange(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	conn, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer")
	require.NoError(t, err)

	err = p.PublishAnswer(ctx, show, domain.Camera1, "old-session", "answer")
	assert.ErrorIs(t, err, domain.ErrStaleDescriptor)

	require.NoError(t, p.PublishAnswer(ctx, show, domain.Camera1, conn.SessionID, "answer-sdp"))

	_, err = p.ConsumeAnswer(ctx, show, domain.Camera1, "old-session")
	assert.ErrorIs(t, err, domain.ErrStaleDescriptor)

	answer, err := p.ConsumeAnswer(ctx, show, domain.Camera1, conn.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "answer-sdp", answer.Descriptor)

	_, err = p.ConsumeAnswer(ctx, show, domain.Camera1, conn.SessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "answers are consumed once")
}

func TestRegisterDiscardsOldAnswer(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	first, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer-1")
	require.NoError(t, err)
	require.NoError(t, p.PublishAnswer(ctx, show, domain.Camera1, first.SessionID, "answer-1"))
	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera1, first.SessionID))

	second, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer-2")
	require.NoError(t, err)

	_, err = p.ConsumeAnswer(ctx, show, domain.Camera1, second.SessionID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestZoom(t *testing.T) {
	ctx := context.Background()
	p, _, clk := newProtocol(t, 0)

	err := p.RequestZoom(ctx, show, 2)
	assert.ErrorIs(t, err, domain.ErrNoActiveCamera)

	_, err = p.RegisterCamera(ctx, show, domain.Camera2, "Tele", "offer")
	require.NoError(t, err)
	_, err = p.SetActiveCamera(ctx, show, domain.SlotPtr(domain.Camera2))
	require.NoError(t, err)

	assert.ErrorIs(t, p.RequestZoom(ctx, show, 0.5), domain.ErrInvalidArgument)

	require.NoError(t, p.RequestZoom(ctx, show, 2))
	clk.Advance(time.Second)
	require.NoError(t, p.RequestZoom(ctx, show, 3.5))

	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	zoom := room.Camera(domain.Camera2).Zoom
	require.NotNil(t, zoom)
	assert.Equal(t, 3.5, zoom.Level)
	assert.Equal(t, clk.Now(), zoom.RequestedAt)
}

func TestFallbackFieldsSurviveUnregister(t *testing.T) {
	ctx := context.Background()
	p, store, _ := newProtocol(t, 0)

	conn, err := p.RegisterCamera(ctx, show, domain.Camera1, "Main", "offer")
	require.NoError(t, err)
	require.NoError(t, store.SetField(ctx, RoomPath(show), CameraField(domain.Camera1, CamFallbackURL), "https://cdn/fb.png"))
	require.NoError(t, store.SetField(ctx, RoomPath(show), CameraField(domain.Camera1, CamUseFallback), true))

	require.NoError(t, p.UnregisterCamera(ctx, show, domain.Camera1, conn.SessionID))

	room, err := p.Room(ctx, show)
	require.NoError(t, err)
	cam := room.Camera(domain.Camera1)
	require.NotNil(t, cam)
	assert.False(t, cam.Connected())
	assert.True(t, cam.HasFallbackImage())
	assert.True(t, cam.IsUsingFallback)
}

func TestWatchDeliversDecodedRooms(t *testing.T) {
	ctx := context.Background()
	p, _, _ := newProtocol(t, 0)

	rooms := make(chan *domain.BroadcastRoom, 8)
	stop, err := p.Watch(ctx, show, func(r *domain.BroadcastRoom) { rooms <- r })
	require.NoError(t, err)
	defer stop()

	first := <-rooms
	assert.Empty(t, first.Cameras)

	_, err = p.RegisterCamera(ctx, show, domain.Camera3, "Wide", "offer")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case r := <-rooms:
			return r.Camera(domain.Camera3).Connected()
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
