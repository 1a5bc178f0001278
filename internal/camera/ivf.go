package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// SampleWriter takes encoded frames, typically a local video track.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

var fourCCMimeTypes = map[string]string{
	"VP80": webrtc.MimeTypeVP8,
	"VP90": webrtc.MimeTypeVP9,
}

// IVFMimeType returns the codec of an IVF file.
func IVFMimeType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		return "", fmt.Errorf("read ivf header: %w", err)
	}
	mime, ok := fourCCMimeTypes[string(header.FourCC[:])]
	if !ok {
		return "", fmt.Errorf("%w: unsupported ivf codec %q", domain.ErrInvalidArgument, header.FourCC[:])
	}
	return mime, nil
}

// IVFStreamer plays an IVF file into a SampleWriter in real time, standing
// in for a capture device.
type IVFStreamer struct {
	path string
	loop bool

	mu    sync.Mutex
	onAir bool
	zoom  float64
}

// NewIVFStreamer creates a streamer for path. With loop set the file
// restarts when it ends.
func NewIVFStreamer(path string, loop bool) *IVFStreamer {
	return &IVFStreamer{path: path, loop: loop, zoom: 1}
}

// OnAir records the tally state.
func (s *IVFStreamer) OnAir(live bool) {
	s.mu.Lock()
	s.onAir = live
	s.mu.Unlock()

	l := log.L()
	l.Info().Bool("on_air", live).Msg("tally changed")
}

// ApplyZoom records the requested zoom level. A file has no optics; the
// level is only reported.
func (s *IVFStreamer) ApplyZoom(level float64) error {
	s.mu.Lock()
	s.zoom = level
	s.mu.Unlock()

	l := log.L()
	l.Info().Float64("level", level).Msg("zoom applied")
	return nil
}

// State returns the tally and zoom.
func (s *IVFStreamer) State() (onAir bool, zoom float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onAir, s.zoom
}

// Run writes frames to w until ctx is done or, without loop, the file ends.
func (s *IVFStreamer) Run(ctx context.Context, w SampleWriter) error {
	for {
		if err := s.play(ctx, w); err != nil {
			return err
		}
		if !s.loop {
			return nil
		}
	}
}

func (s *IVFStreamer) play(ctx context.Context, w SampleWriter) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	if header.TimebaseDenominator == 0 {
		return fmt.Errorf("%w: ivf timebase denominator is zero", domain.ErrInvalidArgument)
	}
	frameDuration := time.Second * time.Duration(header.TimebaseNumerator) / time.Duration(header.TimebaseDenominator)
	if frameDuration <= 0 {
		return fmt.Errorf("%w: ivf frame duration %s", domain.ErrInvalidArgument, frameDuration)
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ivf frame: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := w.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}
