package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir(), PublicURL: "http://cdn.test/media/"})
	require.NoError(t, err)

	blobs := NewBlobs(s)
	url, err := blobs.Upload(ctx, []byte("frame"), "fallbacks/show-1/camera1.png", "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://cdn.test/media/fallbacks/show-1/camera1.png", url)

	rc, err := s.Read(ctx, "fallbacks/show-1/camera1.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "frame", string(data))

	files, err := s.List(ctx, "fallbacks")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "fallbacks/show-1/camera1.png", files[0].Key)

	require.NoError(t, blobs.Delete(ctx, url))
	assert.ErrorIs(t, blobs.Delete(ctx, url), ErrObjectNotFound)
}

func TestLocalStorage_KeyRejectsForeignURL(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)

	_, ok := s.Key("https://elsewhere.test/x.png")
	assert.False(t, ok)

	err = NewBlobs(s).Delete(context.Background(), "https://elsewhere.test/x.png")
	assert.ErrorIs(t, err, ErrForeignURL)
}

func TestLocalStorage_TraversalStaysInBase(t *testing.T) {
	base := t.TempDir()
	s, err := NewLocalStorage(LocalConfig{BasePath: base})
	require.NoError(t, err)

	assert.Equal(t, s.BasePath(), s.fullPath("../../etc/passwd"))
}
