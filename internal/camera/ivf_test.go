package camera

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a minimal IVF file with one-millisecond frames.
func writeIVF(t *testing.T, fourCC string, frames ...[]byte) string {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:4], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:12], fourCC)
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 360)
	binary.LittleEndian.PutUint32(header[16:], 1000)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))

	data := header
	for i, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f)))
		binary.LittleEndian.PutUint64(fh[4:], uint64(i))
		data = append(data, fh...)
		data = append(data, f...)
	}

	path := filepath.Join(t.TempDir(), "clip.ivf")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

type sampleSink struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (s *sampleSink) WriteSample(sm media.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, sm)
	return nil
}

func (s *sampleSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func TestIVFMimeType(t *testing.T) {
	tests := []struct {
		fourCC string
		mime   string
		ok     bool
	}{
		{"VP80", webrtc.MimeTypeVP8, true},
		{"VP90", webrtc.MimeTypeVP9, true},
		{"AV01", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.fourCC, func(t *testing.T) {
			mime, err := IVFMimeType(writeIVF(t, tt.fourCC, []byte{1}))
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mime, mime)
		})
	}
}

func TestIVFStreamer_PlaysFramesInOrder(t *testing.T) {
	path := writeIVF(t, "VP80", []byte{0xa}, []byte{0xb, 0xb}, []byte{0xc, 0xc, 0xc})
	sink := &sampleSink{}

	require.NoError(t, NewIVFStreamer(path, false).Run(context.Background(), sink))

	require.Len(t, sink.samples, 3)
	for i, s := range sink.samples {
		assert.Len(t, s.Data, i+1)
		assert.Equal(t, time.Millisecond, s.Duration)
	}
}

func TestIVFStreamer_LoopsUntilCancelled(t *testing.T) {
	path := writeIVF(t, "VP80", []byte{1}, []byte{2})
	sink := &sampleSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewIVFStreamer(path, true).Run(ctx, sink) }()

	assert.Eventually(t, func() bool { return sink.count() >= 6 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIVFStreamer_DeviceState(t *testing.T) {
	s := NewIVFStreamer("unused.ivf", false)
	onAir, zoom := s.State()
	assert.False(t, onAir)
	assert.Equal(t, 1.0, zoom)

	s.OnAir(true)
	require.NoError(t, s.ApplyZoom(2.5))
	onAir, zoom = s.State()
	assert.True(t, onAir)
	assert.Equal(t, 2.5, zoom)
}
