package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
)

func TestMemoryStore_GetMissingDocument(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetDocument(context.Background(), "rooms/nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_SetFieldKeepsSiblings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.deviceName", "left"))
	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera2.deviceName", "right"))
	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera2.isUsingFallback", true))

	doc, err := s.GetDocument(ctx, "rooms/a")
	require.NoError(t, err)

	var name string
	ok, err := doc.Decode("cameras.camera1.deviceName", &name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "left", name)
	assert.Len(t, doc, 3)
	assert.ElementsMatch(t, []string{"camera1", "camera2"}, doc.Children("cameras"))
}

func TestMemoryStore_DeleteFieldRemovesDescendants(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.deviceName", "left"))
	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera1.sessionId", "s1"))
	require.NoError(t, s.SetField(ctx, "rooms/a", "cameras.camera10", "not a child"))
	require.NoError(t, s.DeleteField(ctx, "rooms/a", "cameras.camera1"))

	doc, err := s.GetDocument(ctx, "rooms/a")
	require.NoError(t, err)
	assert.False(t, doc.Has("cameras.camera1.deviceName"))
	assert.False(t, doc.Has("cameras.camera1.sessionId"))
	assert.True(t, doc.Has("cameras.camera10"))
}

func TestMemoryStore_UpdateAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera1"))

	boom := errors.New("precondition")
	err := s.Update(ctx, "rooms/a", func(doc Document) ([]Op, error) {
		return []Op{Set("activeCameraId", "camera2")}, boom
	})
	assert.ErrorIs(t, err, boom)

	doc, err := s.GetDocument(ctx, "rooms/a")
	require.NoError(t, err)
	assert.JSONEq(t, `"camera1"`, string(doc["activeCameraId"]))
}

func TestMemoryStore_ReturnedDocumentIsACopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera1"))

	doc, err := s.GetDocument(ctx, "rooms/a")
	require.NoError(t, err)
	doc["activeCameraId"][1] = 'X'
	delete(doc, "activeCameraId")

	again, err := s.GetDocument(ctx, "rooms/a")
	require.NoError(t, err)
	assert.JSONEq(t, `"camera1"`, string(again["activeCameraId"]))
}

func TestMemoryStore_SubscribeDeliversSnapshots(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var mu sync.Mutex
	var last Document
	calls := 0
	unsubscribe, err := s.Subscribe(ctx, "rooms/a", func(doc Document) {
		mu.Lock()
		defer mu.Unlock()
		last = doc
		calls++
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 1
	}, time.Second, 5*time.Millisecond, "initial snapshot")

	require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera3"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return last.Has("activeCameraId")
	}, time.Second, 5*time.Millisecond)

	unsubscribe()
	mu.Lock()
	after := calls
	mu.Unlock()

	require.NoError(t, s.SetField(ctx, "rooms/a", "activeCameraId", "camera4"))
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, calls, "no callbacks after unsubscribe returns")
}

func TestApply_SetReplacesDescendants(t *testing.T) {
	doc := Document{
		"recording.id":     []byte(`"r1"`),
		"recording.status": []byte(`"recording"`),
		"activeCameraId":   []byte(`null`),
	}
	ops, err := encodeOps([]Op{Set("recording", map[string]string{"id": "r2"})})
	require.NoError(t, err)

	apply(doc, ops)
	assert.Len(t, doc, 2)
	assert.JSONEq(t, `{"id":"r2"}`, string(doc["recording"]))
}
