package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastRoom_ForViewers(t *testing.T) {
	connected := time.Date(2026, 5, 30, 18, 0, 0, 0, time.UTC)
	card := "/media/fallbacks/s/camera4-abc.png"
	room := &BroadcastRoom{
		ShowID: "s",
		Cameras: map[SlotID]*CameraConnection{
			Camera1: {
				SlotID:               Camera1,
				SessionID:            "sess-1",
				DeviceName:           "Main",
				ConnectionDescriptor: "v=0 candidate:1",
				ConnectedAt:          &connected,
				Zoom:                 &ZoomCommand{Level: 2, RequestedAt: connected},
			},
			Camera4: {SlotID: Camera4, FallbackImageURL: &card, IsUsingFallback: true},
		},
		ActiveCameraID: SlotPtr(Camera1),
		Answers: map[SlotID]*AnswerDescriptor{
			Camera1: {SessionID: "sess-1", Descriptor: "v=0 answer"},
		},
	}

	view := room.ForViewers()
	require.NotNil(t, view)
	assert.Equal(t, Camera1, *view.ActiveCameraID)

	cam1 := view.Camera(Camera1)
	require.NotNil(t, cam1)
	assert.True(t, cam1.Connected)
	assert.Equal(t, "Main", cam1.DeviceName)
	assert.Equal(t, 2.0, cam1.Zoom.Level)

	card4 := view.Camera(Camera4)
	require.NotNil(t, card4)
	assert.False(t, card4.Connected)
	assert.True(t, card4.IsUsingFallback)
	assert.Equal(t, card, *card4.FallbackImageURL)

	assert.Nil(t, view.Camera(Camera2))

	data, err := json.Marshal(view)
	require.NoError(t, err)
	for _, hidden := range []string{"sess-1", "candidate", "answer", "connectionDescriptor"} {
		assert.NotContains(t, string(data), hidden)
	}

	var nilRoom *BroadcastRoom
	assert.Nil(t, nilRoom.ForViewers())
}
