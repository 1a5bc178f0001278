package fallback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

const show = "show-42"

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
	deleteErr error
	deleted   []string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	url := "https://cdn.test/" + path
	f.objects[url] = data
	return url, nil
}

func (f *fakeBlobs) Delete(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, url)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.objects[url]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, url)
	}
	delete(f.objects, url)
	return nil
}

func picture(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, picture(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, picture(w, h), nil))
	return buf.Bytes()
}

func camera(t *testing.T, store signaling.Store, slot domain.SlotID) *domain.CameraConnection {
	t.Helper()
	doc, err := store.GetDocument(context.Background(), broadcast.RoomPath(show))
	require.NoError(t, err)
	cam, err := broadcast.DecodeCamera(doc, slot)
	require.NoError(t, err)
	return cam
}

func TestUpload_SetsURLWithoutEnabling(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	blobs := newFakeBlobs()
	m := NewManager(store, blobs)

	img := pngBytes(t, 64, 36)
	url, err := m.Upload(ctx, show, domain.Camera1, img, "image/png")
	require.NoError(t, err)
	assert.Contains(t, url, "fallbacks/show-42/camera1-")
	assert.Contains(t, url, ".png")
	assert.Equal(t, img, blobs.objects[url], "small images are stored as uploaded")

	cam := camera(t, store, domain.Camera1)
	require.True(t, cam.HasFallbackImage())
	assert.Equal(t, url, *cam.FallbackImageURL)
	assert.False(t, cam.IsUsingFallback)
}

func TestUpload_Validation(t *testing.T) {
	m := NewManager(signaling.NewMemoryStore(), newFakeBlobs())
	ctx := context.Background()

	_, err := m.Upload(ctx, show, domain.Camera1, nil, "image/png")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Upload(ctx, show, domain.Camera1, []byte("x"), "text/plain")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Upload(ctx, show, domain.Camera1, []byte("not a picture"), "image/png")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Upload(ctx, show, domain.Camera1, pngBytes(t, 4, 4), "image/webp")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = m.Upload(ctx, show, "camera0", []byte("x"), "image/png")
	assert.ErrorIs(t, err, domain.ErrInvalidSlot)
}

func TestUpload_ShrinksOversizeImages(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		contentType string
		decode      func([]byte) (image.Image, error)
		wantW       int
		wantH       int
	}{
		{
			name:        "wide png",
			data:        pngBytes(t, 3840, 1080),
			contentType: "image/png",
			decode:      func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
			wantW:       1920,
			wantH:       540,
		},
		{
			name:        "tall jpeg",
			data:        jpegBytes(t, 1000, 2160),
			contentType: "image/jpeg; charset=binary",
			decode:      func(b []byte) (image.Image, error) { return jpeg.Decode(bytes.NewReader(b)) },
			wantW:       500,
			wantH:       1080,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := newFakeBlobs()
			m := NewManager(signaling.NewMemoryStore(), blobs)

			url, err := m.Upload(context.Background(), show, domain.Camera4, tt.data, tt.contentType)
			require.NoError(t, err)

			img, err := tt.decode(blobs.objects[url])
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, img.Bounds().Dx())
			assert.Equal(t, tt.wantH, img.Bounds().Dy())
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	store := signaling.NewMemoryStore()
	blobs := newFakeBlobs()
	blobs.uploadErr = errors.New("s3 down")
	m := NewManager(store, blobs)

	_, err := m.Upload(context.Background(), show, domain.Camera2, jpegBytes(t, 8, 8), "image/jpeg")
	assert.ErrorIs(t, err, domain.ErrStorageUpload)

	_, err = store.GetDocument(context.Background(), broadcast.RoomPath(show))
	assert.ErrorIs(t, err, domain.ErrNotFound, "room untouched")
}

func TestUpload_ReplacesPreviousImage(t *testing.T) {
	ctx := context.Background()
	blobs := newFakeBlobs()
	m := NewManager(signaling.NewMemoryStore(), blobs)

	first, err := m.Upload(ctx, show, domain.Camera1, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)
	second, err := m.Upload(ctx, show, domain.Camera1, pngBytes(t, 16, 9), "image/png")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, []string{first}, blobs.deleted)
	assert.Len(t, blobs.objects, 1)
}

func TestToggle_WithoutImageFails(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	m := NewManager(store, newFakeBlobs())

	require.NoError(t, store.SetField(ctx, broadcast.RoomPath(show), broadcast.CameraField(domain.Camera3, broadcast.CamDeviceName), "Wide"))

	_, err := m.Toggle(ctx, show, domain.Camera3)
	assert.ErrorIs(t, err, domain.ErrNoFallbackImage)

	doc, err := store.GetDocument(ctx, broadcast.RoomPath(show))
	require.NoError(t, err)
	assert.False(t, doc.Has(broadcast.CameraField(domain.Camera3, broadcast.CamUseFallback)), "isUsingFallback never written")
}

func TestToggle_FlipsBothWays(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	m := NewManager(store, newFakeBlobs())

	url, err := m.Upload(ctx, show, domain.Camera3, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)

	res, err := m.Toggle(ctx, show, domain.Camera3)
	require.NoError(t, err)
	assert.True(t, res.Enabled)
	assert.Equal(t, url, *res.ImageURL)
	assert.True(t, camera(t, store, domain.Camera3).IsUsingFallback)

	res, err = m.Toggle(ctx, show, domain.Camera3)
	require.NoError(t, err)
	assert.False(t, res.Enabled)
	assert.False(t, camera(t, store, domain.Camera3).IsUsingFallback)
}

func TestUploadRemoveToggle(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	blobs := newFakeBlobs()
	m := NewManager(store, blobs)

	_, err := m.Upload(ctx, show, domain.Camera1, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)
	_, err = m.Toggle(ctx, show, domain.Camera1)
	require.NoError(t, err)

	wasOn, err := m.Remove(ctx, show, domain.Camera1)
	require.NoError(t, err)
	assert.True(t, wasOn)
	cam := camera(t, store, domain.Camera1)
	assert.False(t, cam.HasFallbackImage())
	assert.False(t, cam.IsUsingFallback, "remove forces the override off")
	assert.Empty(t, blobs.objects)

	_, err = m.Toggle(ctx, show, domain.Camera1)
	assert.ErrorIs(t, err, domain.ErrNoFallbackImage)
}

func TestRemove_SwallowsBlobErrors(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	blobs := newFakeBlobs()
	m := NewManager(store, blobs)

	url, err := m.Upload(ctx, show, domain.Camera2, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)

	// Object already gone remotely.
	delete(blobs.objects, url)
	wasOn, err := m.Remove(ctx, show, domain.Camera2)
	require.NoError(t, err)
	assert.False(t, wasOn)
	assert.False(t, camera(t, store, domain.Camera2).HasFallbackImage())

	_, err = m.Upload(ctx, show, domain.Camera2, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)
	blobs.deleteErr = errors.New("permission denied")
	_, err = m.Remove(ctx, show, domain.Camera2)
	require.NoError(t, err)
	assert.False(t, camera(t, store, domain.Camera2).HasFallbackImage())
}

func TestRemove_UntouchedSlotWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := signaling.NewMemoryStore()
	blobs := newFakeBlobs()
	m := NewManager(store, blobs)

	wasOn, err := m.Remove(ctx, show, domain.Camera3)
	require.NoError(t, err)
	assert.False(t, wasOn)
	_, err = store.GetDocument(ctx, broadcast.RoomPath(show))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = m.Upload(ctx, show, domain.Camera1, pngBytes(t, 8, 8), "image/png")
	require.NoError(t, err)
	_, err = m.Remove(ctx, show, domain.Camera3)
	require.NoError(t, err)
	assert.Nil(t, camera(t, store, domain.Camera3))
	assert.True(t, camera(t, store, domain.Camera1).HasFallbackImage())
	assert.Empty(t, blobs.deleted)
}

func TestEffectiveSource(t *testing.T) {
	url := "https://cdn.test/fb.png"
	tests := []struct {
		name string
		cam  *domain.CameraConnection
		live bool
		want domain.EffectiveSource
	}{
		{"no entry, no stream", nil, false, domain.SourceNoSignal},
		{"no entry, stream", nil, true, domain.SourceLive},
		{"fallback beats live", &domain.CameraConnection{FallbackImageURL: &url, IsUsingFallback: true}, true, domain.SourceFallback},
		{"fallback without stream", &domain.CameraConnection{FallbackImageURL: &url, IsUsingFallback: true}, false, domain.SourceFallback},
		{"image stored but off", &domain.CameraConnection{FallbackImageURL: &url}, true, domain.SourceLive},
		{"image stored, off, no stream", &domain.CameraConnection{FallbackImageURL: &url}, false, domain.SourceNoSignal},
		{"override without image is ignored", &domain.CameraConnection{IsUsingFallback: true}, false, domain.SourceNoSignal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EffectiveSource(tt.cam, tt.live))
		})
	}
}

func TestSources(t *testing.T) {
	url := "https://cdn.test/fb.png"
	room := &domain.BroadcastRoom{
		Cameras: map[domain.SlotID]*domain.CameraConnection{
			domain.Camera1: {SlotID: domain.Camera1, SessionID: "s1"},
			domain.Camera2: {SlotID: domain.Camera2, SessionID: "s2", FallbackImageURL: &url, IsUsingFallback: true},
		},
	}

	got := Sources(room, nil)
	assert.Equal(t, domain.SourceLive, got[domain.Camera1])
	assert.Equal(t, domain.SourceFallback, got[domain.Camera2])
	assert.Equal(t, domain.SourceNoSignal, got[domain.Camera3])

	got = Sources(room, func(domain.SlotID) bool { return false })
	assert.Equal(t, domain.SourceNoSignal, got[domain.Camera1])
}
