// Package director runs the director side of a show: one inbound peer
// session per camera, the active-camera and fallback controls, and the
// recording of the program feed.
package director

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/events"
	"github.com/weiawesome/wes-io-multicam/internal/fallback"
	"github.com/weiawesome/wes-io-multicam/internal/peer"
	"github.com/weiawesome/wes-io-multicam/internal/recording"
	"github.com/weiawesome/wes-io-multicam/internal/repository"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

// Deps are the collaborators shared by every show.
type Deps struct {
	Protocol   *broadcast.Protocol
	Fallback   *fallback.Manager
	Peers      peer.Factory
	Blobs      storage.BlobStore
	Recordings repository.RecordingRepository // optional
	Events     events.Producer                // optional
	Recording  recording.Config
	// NegotiateTimeout bounds answering one camera's offer.
	NegotiateTimeout time.Duration
	// RecordingOptions are passed to every show's engine.
	RecordingOptions []recording.Option
}

// feed is the director's inbound connection to one camera session.
type feed struct {
	sessionID string
	peer      peer.Session
	done      chan struct{}

	mu    sync.Mutex
	video *peer.RemoteStream
}

func (f *feed) stream() *peer.RemoteStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.video
}

// Snapshot is the room as viewers should render it.
type Snapshot struct {
	Room    *domain.ViewerRoom                       `json:"room"`
	Sources map[domain.SlotID]domain.EffectiveSource `json:"sources"`
}

// NewSnapshot projects room for viewers. A nil live treats every connected
// camera as live.
func NewSnapshot(room *domain.BroadcastRoom, live func(domain.SlotID) bool) *Snapshot {
	return &Snapshot{Room: room.ForViewers(), Sources: fallback.Sources(room, live)}
}

// Director controls one show.
type Director struct {
	showID string
	deps   Deps
	engine *recording.Engine
	logger zerolog.Logger

	mu      sync.Mutex
	feeds   map[domain.SlotID]*feed
	unwatch func()
	cancel  context.CancelFunc
	closed  bool

	// Serializes recording and switching so the engine always records
	// the camera the room says is active.
	control sync.Mutex
}

// New creates a director for showID. Call Start to begin accepting cameras.
func New(showID string, deps Deps) *Director {
	if deps.NegotiateTimeout <= 0 {
		deps.NegotiateTimeout = 15 * time.Second
	}
	return &Director{
		showID: showID,
		deps:   deps,
		engine: recording.NewEngine(showID, deps.Blobs, deps.Recording, deps.RecordingOptions...),
		logger: log.Component("director").With().Str(log.FieldShowID, showID).Logger(),
		feeds:  make(map[domain.SlotID]*feed),
	}
}

// ShowID returns the show this director controls.
func (d *Director) ShowID() string {
	return d.showID
}

// Engine returns the show's recording engine.
func (d *Director) Engine() *recording.Engine {
	return d.engine
}

// Start subscribes to the room and connects to cameras as they register.
func (d *Director) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(log.WithLogger(context.Background(), d.logger))
	unwatch, err := d.deps.Protocol.Watch(runCtx, d.showID, func(room *domain.BroadcastRoom) {
		d.reconcile(runCtx, room)
	})
	if err != nil {
		cancel()
		return fmt.Errorf("watch room: %w", err)
	}

	d.mu.Lock()
	d.unwatch = unwatch
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.Info().Msg("director started")
	return nil
}

// reconcile runs on every room snapshot, one at a time.
func (d *Director) reconcile(ctx context.Context, room *domain.BroadcastRoom) {
	for _, slot := range domain.Slots {
		cam := room.Camera(slot)

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return
		}
		current := d.feeds[slot]
		d.mu.Unlock()

		switch {
		case !cam.Connected():
			if current != nil {
				d.dropFeed(slot, current)
			}
		case current == nil || current.sessionID != cam.SessionID:
			if current != nil {
				d.dropFeed(slot, current)
			}
			if err := d.connect(ctx, slot, cam); err != nil {
				d.logger.Error().Err(err).
					Str(log.FieldSlotID, string(slot)).
					Str(log.FieldSessionID, cam.SessionID).
					Msg("failed to connect camera")
			}
		}
	}

	if d.engine.Status() == domain.RecordingActive && !sameSlot(room.ActiveCameraID, d.engine.CurrentCamera()) {
		d.followActive(ctx)
	}
}

// followActive points the recording at whatever the room says is live. It
// catches changes made outside SetActiveCamera, such as the live camera
// unregistering.
func (d *Director) followActive(ctx context.Context) {
	d.control.Lock()
	defer d.control.Unlock()

	if d.engine.Status() != domain.RecordingActive {
		return
	}
	active, err := d.deps.Protocol.ActiveCamera(ctx, d.showID)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to read active camera")
		return
	}
	current := d.engine.CurrentCamera()
	if sameSlot(active, current) {
		return
	}

	if err := d.engine.SwitchStream(d.source(active), active); err != nil {
		d.logger.Warn().Err(err).Msg("recording did not follow room")
		return
	}
	d.logger.Info().
		Str("from", slotString(current)).
		Str("to", slotString(active)).
		Msg("recording followed room")
}

func (d *Director) connect(ctx context.Context, slot domain.SlotID, cam *domain.CameraConnection) error {
	session, err := d.deps.Peers.NewSession()
	if err != nil {
		return err
	}

	nctx, cancel := context.WithTimeout(ctx, d.deps.NegotiateTimeout)
	defer cancel()

	answer, err := session.CreateAnswer(nctx, cam.ConnectionDescriptor)
	if err != nil {
		_ = session.Close()
		return fmt.Errorf("create answer: %w", err)
	}

	f := &feed{sessionID: cam.SessionID, peer: session, done: make(chan struct{})}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = session.Close()
		return nil
	}
	d.feeds[slot] = f
	d.mu.Unlock()

	go d.receive(slot, f)

	if err := d.deps.Protocol.PublishAnswer(nctx, d.showID, slot, cam.SessionID, answer); err != nil {
		d.dropFeed(slot, f)
		return fmt.Errorf("publish answer: %w", err)
	}

	d.logger.Info().
		Str(log.FieldSlotID, string(slot)).
		Str(log.FieldSessionID, cam.SessionID).
		Str("device_name", cam.DeviceName).
		Msg("camera connected")
	return nil
}

// receive takes the camera's remote streams until the session closes.
func (d *Director) receive(slot domain.SlotID, f *feed) {
	defer close(f.done)
	for stream := range f.peer.RemoteStreams() {
		if stream.Kind != "video" {
			continue
		}

		f.mu.Lock()
		f.video = stream
		f.mu.Unlock()

		d.onVideo(slot, stream)
	}
}

// onVideo resumes recording of a camera that came back while it is both
// the recorded source and live in the room.
func (d *Director) onVideo(slot domain.SlotID, stream *peer.RemoteStream) {
	d.control.Lock()
	defer d.control.Unlock()

	current := d.engine.CurrentCamera()
	if current == nil || *current != slot {
		return
	}
	active, err := d.deps.Protocol.ActiveCamera(context.Background(), d.showID)
	if err != nil || active == nil || *active != slot {
		return
	}
	if err := d.engine.Attach(stream.Tap()); err != nil {
		d.logger.Warn().Err(err).Str(log.FieldSlotID, string(slot)).Msg("failed to attach returning camera")
	}
}

// dropFeed closes the feed's peer session before returning.
func (d *Director) dropFeed(slot domain.SlotID, f *feed) {
	d.mu.Lock()
	if d.feeds[slot] == f {
		delete(d.feeds, slot)
	}
	d.mu.Unlock()

	if err := f.peer.Close(); err != nil {
		d.logger.Debug().Err(err).Str(log.FieldSlotID, string(slot)).Msg("peer close returned error")
	}
	<-f.done

	d.logger.Info().
		Str(log.FieldSlotID, string(slot)).
		Str(log.FieldSessionID, f.sessionID).
		Msg("camera disconnected")
}

// HasLive reports whether video is flowing from slot.
func (d *Director) HasLive(slot domain.SlotID) bool {
	d.mu.Lock()
	f := d.feeds[slot]
	d.mu.Unlock()
	if f == nil {
		return false
	}
	s := f.stream()
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

// Preview returns a tap on slot's live video, or nil.
func (d *Director) Preview(slot domain.SlotID) *peer.Tap {
	d.mu.Lock()
	f := d.feeds[slot]
	d.mu.Unlock()
	if f == nil {
		return nil
	}
	if s := f.stream(); s != nil {
		return s.Tap()
	}
	return nil
}

func (d *Director) source(slot *domain.SlotID) recording.Source {
	if slot == nil {
		return nil
	}
	if tap := d.Preview(*slot); tap != nil {
		return tap
	}
	return nil
}

// Snapshot returns the room with every slot's effective source.
func (d *Director) Snapshot(ctx context.Context) (*Snapshot, error) {
	room, err := d.deps.Protocol.Room(ctx, d.showID)
	if err != nil {
		return nil, err
	}
	return NewSnapshot(room, d.HasLive), nil
}

// SetActiveCamera switches the broadcast to slot, or off when slot is nil.
// While recording, the engine follows the switch and logs it.
func (d *Director) SetActiveCamera(ctx context.Context, slot *domain.SlotID) (*domain.SlotID, error) {
	d.control.Lock()
	defer d.control.Unlock()

	previous, err := d.deps.Protocol.SetActiveCamera(ctx, d.showID, slot)
	if err != nil {
		return nil, err
	}
	if sameSlot(previous, slot) {
		return previous, nil
	}

	if d.engine.Status() == domain.RecordingActive {
		if err := d.engine.SwitchStream(d.source(slot), slot); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("recording did not follow camera switch")
		}
	}

	d.produce(ctx, &events.BroadcastEvent{
		Type:       events.EventCameraSwitched,
		SlotID:     slotString(slot),
		FromSlotID: slotString(previous),
	})
	return previous, nil
}

// KickCamera disconnects whatever camera holds slot.
func (d *Director) KickCamera(ctx context.Context, slot domain.SlotID) error {
	if err := d.deps.Protocol.UnregisterCamera(ctx, d.showID, slot, ""); err != nil {
		return err
	}

	d.mu.Lock()
	f := d.feeds[slot]
	d.mu.Unlock()
	if f != nil {
		d.dropFeed(slot, f)
	}
	return nil
}

// RequestZoom relays a zoom command to the active camera.
func (d *Director) RequestZoom(ctx context.Context, level float64) error {
	return d.deps.Protocol.RequestZoom(ctx, d.showID, level)
}

// UploadFallback stores a fallback image for slot.
func (d *Director) UploadFallback(ctx context.Context, slot domain.SlotID, image []byte, contentType string) (string, error) {
	return d.deps.Fallback.Upload(ctx, d.showID, slot, image, contentType)
}

// RemoveFallback deletes slot's fallback image. If the fallback was on
// during a recording the timeline records it turning off.
func (d *Director) RemoveFallback(ctx context.Context, slot domain.SlotID) error {
	d.control.Lock()
	defer d.control.Unlock()

	wasOn, err := d.deps.Fallback.Remove(ctx, d.showID, slot)
	if err != nil {
		return err
	}
	if wasOn {
		d.recordToggle(ctx, slot, false, nil)
	}
	return nil
}

// ToggleFallback flips slot's fallback override.
func (d *Director) ToggleFallback(ctx context.Context, slot domain.SlotID) (*fallback.ToggleResult, error) {
	d.control.Lock()
	defer d.control.Unlock()

	result, err := d.deps.Fallback.Toggle(ctx, d.showID, slot)
	if err != nil {
		return nil, err
	}
	d.recordToggle(ctx, slot, result.Enabled, result.ImageURL)
	return result, nil
}

func (d *Director) recordToggle(ctx context.Context, slot domain.SlotID, on bool, url *string) {
	if d.engine.Status() == domain.RecordingActive {
		if err := d.engine.RecordFallbackToggle(slot, on, url); err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Msg("fallback toggle not recorded")
		}
	}
	d.produce(ctx, &events.BroadcastEvent{
		Type:       events.EventFallbackToggled,
		SlotID:     string(slot),
		FallbackOn: &on,
	})
}

// StartRecording records the active camera.
func (d *Director) StartRecording(ctx context.Context) (*domain.RecordingSession, error) {
	d.control.Lock()
	defer d.control.Unlock()

	room, err := d.deps.Protocol.Room(ctx, d.showID)
	if err != nil {
		return nil, err
	}
	if room.ActiveCameraID == nil {
		return nil, domain.ErrNoActiveCamera
	}
	slot := *room.ActiveCameraID

	src := d.source(&slot)
	if src == nil {
		return nil, fmt.Errorf("%w: no video from %s yet", domain.ErrCameraNotConnected, slot)
	}

	session, err := d.engine.StartRecording(src, slot)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	d.publish(ctx, session)
	d.produce(ctx, &events.BroadcastEvent{
		Type:        events.EventRecordingStarted,
		SlotID:      string(slot),
		RecordingID: session.ID,
	})
	return session, nil
}

// StopRecording finalizes the recording and publishes the outcome to the
// room, the catalog and the event stream. A failed finalize is returned.
func (d *Director) StopRecording(ctx context.Context) (*domain.RecordingSession, error) {
	d.control.Lock()
	defer d.control.Unlock()
	return d.stopRecording(ctx)
}

func (d *Director) stopRecording(ctx context.Context) (*domain.RecordingSession, error) {
	session, err := d.engine.StopRecording(ctx)
	if session == nil {
		return nil, err
	}

	d.publish(ctx, session)

	ev := &events.BroadcastEvent{
		Type:        events.EventRecordingFinished,
		RecordingID: session.ID,
		ArtifactURL: session.ArtifactURL,
		DurationMs:  session.DurationMs,
	}
	if err != nil {
		ev.Type = events.EventRecordingFailed
		ev.Reason = err.Error()
	}
	d.produce(ctx, ev)
	return session, err
}

// publish writes the recording's state to the room and the catalog.
func (d *Director) publish(ctx context.Context, session *domain.RecordingSession) {
	l := log.Ctx(ctx)
	if err := d.deps.Protocol.SetRecording(ctx, d.showID, session.Summary()); err != nil {
		l.Error().Err(err).Str(log.FieldRecordingID, session.ID).Msg("failed to publish recording to room")
	}
	if d.deps.Recordings != nil {
		if err := d.deps.Recordings.Save(ctx, session); err != nil {
			l.Error().Err(err).Str(log.FieldRecordingID, session.ID).Msg("failed to save recording")
		}
	}
}

func (d *Director) produce(ctx context.Context, ev *events.BroadcastEvent) {
	if d.deps.Events == nil {
		return
	}
	ev.ShowID = d.showID
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().Unix()
	}
	if err := d.deps.Events.Produce(ctx, ev); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str("type", ev.Type).Msg("failed to produce broadcast event")
	}
}

// Close stops following the room, finalizes an in-progress recording and
// closes every camera connection before returning. A recording that could
// not be saved is returned as an error.
func (d *Director) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	unwatch, cancel := d.unwatch, d.cancel
	d.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}

	var recErr error
	d.control.Lock()
	if d.engine.Status() == domain.RecordingActive {
		if _, err := d.stopRecording(ctx); err != nil {
			d.logger.Error().Err(err).Msg("recording lost while closing director")
			recErr = err
		}
	}
	d.control.Unlock()

	d.mu.Lock()
	feeds := d.feeds
	d.feeds = make(map[domain.SlotID]*feed)
	d.mu.Unlock()

	for slot, f := range feeds {
		d.dropFeed(slot, f)
	}

	d.logger.Info().Msg("director closed")
	return recErr
}

func sameSlot(a, b *domain.SlotID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func slotString(s *domain.SlotID) string {
	if s == nil {
		return ""
	}
	return string(*s)
}
