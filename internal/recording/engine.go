// Package recording captures the program feed into a container artifact
// with a timeline of camera events relative to the recording's start.
package recording

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

// Source is a stream of RTP packets the engine can record. The engine
// closes a source when it stops reading from it.
type Source interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	io.Closer
}

// KeyframeRequester is implemented by sources that can ask their sender
// for a keyframe.
type KeyframeRequester interface {
	RequestKeyframe()
}

// Config holds recording settings.
type Config struct {
	Timeslice          time.Duration `mapstructure:"timeslice"`
	VideoBitsPerSecond int           `mapstructure:"video_bits_per_second"`
	Codec              string        `mapstructure:"codec"`
	ClockRate          uint32        `mapstructure:"clock_rate"`
	KeyPrefix          string        `mapstructure:"key_prefix"`
}

func (c Config) withDefaults() Config {
	if c.Timeslice <= 0 {
		c.Timeslice = time.Second
	}
	if c.VideoBitsPerSecond <= 0 {
		c.VideoBitsPerSecond = 2_500_000
	}
	if c.Codec == "" {
		c.Codec = webrtc.MimeTypeVP8
	}
	if c.ClockRate == 0 {
		c.ClockRate = 90000
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "recordings"
	}
	return c
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMuxer overrides the container muxer.
func WithMuxer(f MuxerFactory) Option {
	return func(e *Engine) { e.newMuxer = f }
}

// Engine records one show. It runs one recording at a time and can be
// restarted once the previous recording reached a terminal state.
type Engine struct {
	cfg      Config
	showID   string
	blobs    storage.BlobStore
	newMuxer MuxerFactory
	now      func() time.Time
	logger   zerolog.Logger

	mu          sync.Mutex
	status      domain.RecordingStatus
	session     *domain.RecordingSession
	currentCam  *domain.SlotID
	lastEventMs int64
	buf         *chunkBuffer
	muxer       Muxer
	rebase      *rebaser
	src         Source
	gen         uint64
	dropped     int
	stopTick    chan struct{}
	tickDone    chan struct{}

	readers sync.WaitGroup
}

// NewEngine creates an idle engine for showID.
func NewEngine(showID string, blobs storage.BlobStore, cfg Config, opts ...Option) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:      cfg,
		showID:   showID,
		blobs:    blobs,
		newMuxer: IVFMuxer(cfg.Codec),
		now:      time.Now,
		status:   domain.RecordingIdle,
		logger:   log.Component("recording").With().Str(log.FieldShowID, showID).Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Status returns the current state.
func (e *Engine) Status() domain.RecordingStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Session returns a copy of the current or last recording, or nil.
func (e *Engine) Session() *domain.RecordingSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Engine) snapshot() *domain.RecordingSession {
	if e.session == nil {
		return nil
	}
	s := *e.session
	s.CameraEvents = append([]domain.CameraEvent(nil), e.session.CameraEvents...)
	return &s
}

// StartRecording begins recording src, attributed to cameraID.
func (e *Engine) StartRecording(src Source, cameraID domain.SlotID) (*domain.RecordingSession, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != domain.RecordingIdle && !e.status.Terminal() {
		return nil, &domain.TransitionError{Op: "start recording", From: e.status}
	}

	buf := newChunkBuffer(e.cfg.VideoBitsPerSecond / 8 * int(e.cfg.Timeslice/time.Millisecond) / 1000)
	muxer, err := e.newMuxer(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open muxer: %w", err)
	}

	now := e.now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate recording id: %w", err)
	}
	e.session = &domain.RecordingSession{
		ID:             id.String(),
		ShowID:         e.showID,
		SourceCameraID: cameraID,
		StartedAt:      now,
		CameraEvents:   []domain.CameraEvent{},
		Status:         domain.RecordingActive,
	}
	e.status = domain.RecordingActive
	e.currentCam = domain.SlotPtr(cameraID)
	e.lastEventMs = 0
	e.buf = buf
	e.muxer = muxer
	e.rebase = newRebaser(e.cfg.ClockRate)
	e.dropped = 0

	e.stopTick = make(chan struct{})
	e.tickDone = make(chan struct{})
	go e.runTicker(e.stopTick, e.tickDone)

	e.attach(src)

	e.logger.Info().
		Str(log.FieldRecordingID, e.session.ID).
		Str(log.FieldSlotID, string(cameraID)).
		Msg("recording started")
	return e.snapshot(), nil
}

// SwitchStream replaces the recorded source without interrupting the
// container and logs a camera-switch event. A nil src records nothing
// until the next switch; a nil cameraID means the broadcast is off.
func (e *Engine) SwitchStream(src Source, cameraID *domain.SlotID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != domain.RecordingActive {
		return &domain.TransitionError{Op: "switch stream", From: e.status}
	}

	e.detach()
	if src != nil {
		e.attach(src)
	}

	e.appendEvent(domain.CameraEvent{
		Type:         domain.EventCameraSwitch,
		FromCameraID: e.currentCam,
		ToCameraID:   cameraID,
	})
	e.currentCam = cameraID
	return nil
}

// Attach replaces the recorded source for the current camera without
// logging an event, for a camera that reconnected mid-recording.
func (e *Engine) Attach(src Source) error {
	if src == nil {
		return fmt.Errorf("%w: nil source", domain.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != domain.RecordingActive {
		return &domain.TransitionError{Op: "attach source", From: e.status}
	}
	e.detach()
	e.attach(src)
	return nil
}

// CurrentCamera returns the camera being recorded, or nil.
func (e *Engine) CurrentCamera() *domain.SlotID {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != domain.RecordingActive || e.currentCam == nil {
		return nil
	}
	return domain.SlotPtr(*e.currentCam)
}

// RecordFallbackToggle logs a fallback-toggle event. The captured media is
// not altered.
func (e *Engine) RecordFallbackToggle(cameraID domain.SlotID, on bool, imageURL *string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != domain.RecordingActive {
		return &domain.TransitionError{Op: "record fallback toggle", From: e.status}
	}

	var url *string
	if imageURL != nil {
		u := *imageURL
		url = &u
	}
	e.appendEvent(domain.CameraEvent{
		Type:             domain.EventFallbackToggle,
		CameraID:         domain.SlotPtr(cameraID),
		IsFallbackOn:     &on,
		FallbackImageURL: url,
	})
	return nil
}

// Caller holds e.mu. Timestamps never go backwards even if the clock does.
func (e *Engine) appendEvent(ev domain.CameraEvent) {
	ms := max(e.now().Sub(e.session.StartedAt).Milliseconds(), e.lastEventMs)
	ev.TimestampMs = ms
	e.lastEventMs = ms
	e.session.CameraEvents = append(e.session.CameraEvents, ev)
}

// StopRecording finalizes the artifact and uploads it with its timeline.
// On failure the recording is marked failed, the buffer is discarded and
// the returned error wraps domain.ErrRecordingFinalize.
func (e *Engine) StopRecording(ctx context.Context) (*domain.RecordingSession, error) {
	e.mu.Lock()
	if e.status != domain.RecordingActive {
		status := e.status
		e.mu.Unlock()
		return nil, &domain.TransitionError{Op: "stop recording", From: status}
	}
	e.status = domain.RecordingFinalizing
	e.session.Status = domain.RecordingFinalizing
	e.detach()
	close(e.stopTick)
	tickDone := e.tickDone
	e.mu.Unlock()

	e.readers.Wait()
	<-tickDone

	e.mu.Lock()
	e.session.DurationMs = max(e.now().Sub(e.session.StartedAt).Milliseconds(), e.lastEventMs)
	closeErr := e.muxer.Close()
	artifact := e.buf.Bytes()
	session := e.snapshot()
	e.muxer = nil
	e.buf.Reset()
	e.mu.Unlock()

	logger := e.logger.With().Str(log.FieldRecordingID, session.ID).Logger()

	if closeErr != nil {
		return e.fail(logger, fmt.Errorf("%w: close muxer: %v", domain.ErrRecordingFinalize, closeErr))
	}

	artifactURL, eventsURL, err := e.upload(ctx, session, artifact)
	if err != nil {
		return e.fail(logger, fmt.Errorf("%w: %w", domain.ErrRecordingFinalize, err))
	}

	e.mu.Lock()
	e.status = domain.RecordingCompleted
	e.session.Status = domain.RecordingCompleted
	e.session.ArtifactURL = artifactURL
	e.session.EventsURL = eventsURL
	session = e.snapshot()
	e.mu.Unlock()

	logger.Info().
		Int64("duration_ms", session.DurationMs).
		Int("events", len(session.CameraEvents)).
		Int("bytes", len(artifact)).
		Str("artifact_url", artifactURL).
		Msg("recording completed")
	return session, nil
}

// Timeline is the separately stored event list of a recording.
type Timeline struct {
	RecordingID  string               `json:"recordingId"`
	ShowID       string               `json:"showId"`
	StartedAtMs  int64                `json:"startedAtMs"`
	DurationMs   int64                `json:"durationMs"`
	CameraEvents []domain.CameraEvent `json:"cameraEvents"`
}

func (e *Engine) upload(ctx context.Context, session *domain.RecordingSession, artifact []byte) (string, string, error) {
	timeline, err := json.Marshal(Timeline{
		RecordingID:  session.ID,
		ShowID:       session.ShowID,
		StartedAtMs:  session.StartedAtMs(),
		DurationMs:   session.DurationMs,
		CameraEvents: session.CameraEvents,
	})
	if err != nil {
		return "", "", fmt.Errorf("marshal timeline: %w", err)
	}

	base := fmt.Sprintf("%s/%s/%s", e.cfg.KeyPrefix, session.ShowID, session.ID)
	var artifactURL, eventsURL string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		url, err := e.blobs.Upload(gctx, artifact, base+".ivf", ContentTypeIVF)
		if err != nil {
			return fmt.Errorf("%w: artifact: %v", domain.ErrStorageUpload, err)
		}
		artifactURL = url
		return nil
	})
	g.Go(func() error {
		url, err := e.blobs.Upload(gctx, timeline, base+".events.json", "application/json")
		if err != nil {
			return fmt.Errorf("%w: timeline: %v", domain.ErrStorageUpload, err)
		}
		eventsURL = url
		return nil
	})

	if err := g.Wait(); err != nil {
		// Do not leave half an artifact behind.
		for _, url := range []string{artifactURL, eventsURL} {
			if url == "" {
				continue
			}
			if delErr := e.blobs.Delete(context.WithoutCancel(ctx), url); delErr != nil && !errors.Is(delErr, storage.ErrObjectNotFound) {
				e.logger.Warn().Err(delErr).Str("url", url).Msg("failed to delete partial upload")
			}
		}
		return "", "", err
	}
	return artifactURL, eventsURL, nil
}

func (e *Engine) fail(logger zerolog.Logger, err error) (*domain.RecordingSession, error) {
	e.mu.Lock()
	e.status = domain.RecordingFailed
	e.session.Status = domain.RecordingFailed
	e.session.Error = err.Error()
	session := e.snapshot()
	e.mu.Unlock()

	logger.Error().Err(err).Msg("recording failed")
	return session, err
}

// Close stops an in-progress recording. A failure to finalize is logged
// and returned.
func (e *Engine) Close(ctx context.Context) error {
	if e.Status() != domain.RecordingActive {
		return nil
	}
	if _, err := e.StopRecording(ctx); err != nil {
		e.logger.Error().Err(err).Msg("recording lost during teardown")
		return err
	}
	return nil
}

// Caller holds e.mu.
func (e *Engine) attach(src Source) {
	e.gen++
	e.src = src
	e.rebase.next()
	if kr, ok := src.(KeyframeRequester); ok {
		kr.RequestKeyframe()
	}

	e.readers.Add(1)
	go e.capture(e.gen, src)
}

// Caller holds e.mu.
func (e *Engine) detach() {
	e.gen++
	if e.src == nil {
		return
	}
	if err := e.src.Close(); err != nil {
		e.logger.Debug().Err(err).Msg("failed to close source")
	}
	e.src = nil
}

func (e *Engine) capture(gen uint64, src Source) {
	defer e.readers.Done()
	for {
		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.logger.Warn().Err(err).Msg("recording source ended")
			}
			return
		}
		if !e.write(gen, pkt) {
			return
		}
	}
}

func (e *Engine) write(gen uint64, pkt *rtp.Packet) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.status != domain.RecordingActive {
		return false
	}

	e.rebase.rebase(pkt, e.now())
	if err := e.muxer.WriteRTP(pkt); err != nil {
		e.dropped++
		e.logger.Debug().Err(err).Int("dropped", e.dropped).Msg("packet skipped by muxer")
	}
	return true
}

func (e *Engine) runTicker(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Timeslice)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			e.buf.Seal()
			e.mu.Unlock()
		}
	}
}
