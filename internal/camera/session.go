// Package camera runs the camera side of a show: it offers media, claims a
// slot, applies the director's answer and reacts to room changes.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/peer"
	"github.com/weiawesome/wes-io-multicam/pkg/log"
)

// Device is the capture hardware behind a camera session.
type Device interface {
	// OnAir is called when the camera goes live or off-air.
	OnAir(live bool)
	// ApplyZoom applies a zoom level. The device is the only source of
	// truth for the resulting zoom; nothing is reported back.
	ApplyZoom(level float64) error
}

// Config identifies the camera.
type Config struct {
	ShowID            string
	Slot              domain.SlotID
	DeviceName        string
	HeartbeatInterval time.Duration
}

// Session is one camera's connection to a show.
type Session struct {
	cfg      Config
	protocol *broadcast.Protocol
	peer     peer.Session
	device   Device
	logger   zerolog.Logger

	mu       sync.Mutex
	conn     *domain.CameraConnection
	answered bool
	onAir    bool
	lastZoom time.Time
	started  bool
	closed   bool

	cancel  context.CancelFunc
	unwatch func()
	wg      sync.WaitGroup
	lost    chan struct{}
	lostOne sync.Once
}

// NewSession creates a camera session. p must already carry the camera's
// local tracks.
func NewSession(protocol *broadcast.Protocol, p peer.Session, device Device, cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Session{
		cfg:      cfg,
		protocol: protocol,
		peer:     p,
		device:   device,
		logger: log.Component("camera").With().
			Str(log.FieldShowID, cfg.ShowID).
			Str(log.FieldSlotID, string(cfg.Slot)).
			Logger(),
		lost: make(chan struct{}),
	}
}

// Start offers media, claims the slot and begins following the room.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("camera session already started")
	}
	s.started = true
	s.mu.Unlock()

	offer, err := s.peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	conn, err := s.protocol.RegisterCamera(ctx, s.cfg.ShowID, s.cfg.Slot, s.cfg.DeviceName, offer)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.logger = s.logger.With().Str(log.FieldSessionID, conn.SessionID).Logger()
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(log.WithLogger(context.Background(), s.logger))
	unwatch, err := s.protocol.Watch(runCtx, s.cfg.ShowID, s.onRoom)
	if err != nil {
		cancel()
		s.unregister(ctx, conn.SessionID)
		return fmt.Errorf("watch room: %w", err)
	}

	s.mu.Lock()
	s.cancel = cancel
	s.unwatch = unwatch
	s.mu.Unlock()

	s.wg.Add(1)
	go s.heartbeat(runCtx, conn.SessionID)

	s.logger.Info().Str("device_name", s.cfg.DeviceName).Msg("camera session started")
	return nil
}

// Lost is closed when another session took over the slot.
func (s *Session) Lost() <-chan struct{} {
	return s.lost
}

// OnAir reports whether the camera is currently the live source.
func (s *Session) OnAir() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onAir
}

// Connection returns the registered connection, or nil before Start.
func (s *Session) Connection() *domain.CameraConnection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) onRoom(room *domain.BroadcastRoom) {
	s.mu.Lock()
	if s.closed || s.conn == nil {
		s.mu.Unlock()
		return
	}
	sessionID := s.conn.SessionID
	s.mu.Unlock()

	cam := room.Camera(s.cfg.Slot)
	if !cam.Connected() || cam.SessionID != sessionID {
		s.markLost()
		s.setOnAir(false)
		return
	}

	s.applyAnswer(room, sessionID)
	s.setOnAir(room.IsActive(s.cfg.Slot))
	s.applyZoom(cam.Zoom)
}

func (s *Session) applyAnswer(room *domain.BroadcastRoom, sessionID string) {
	s.mu.Lock()
	answered := s.answered
	s.mu.Unlock()
	if answered {
		return
	}

	pending := room.Answers[s.cfg.Slot]
	if pending == nil || pending.SessionID != sessionID {
		return
	}

	ctx := log.WithLogger(context.Background(), s.logger)
	answer, err := s.protocol.ConsumeAnswer(ctx, s.cfg.ShowID, s.cfg.Slot, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("failed to consume answer")
		}
		return
	}

	if err := s.peer.ApplyAnswer(answer.Descriptor); err != nil {
		s.logger.Error().Err(err).Msg("failed to apply answer")
		return
	}

	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()
	s.logger.Info().Msg("director answer applied")
}

func (s *Session) setOnAir(live bool) {
	s.mu.Lock()
	changed := s.onAir != live
	s.onAir = live
	s.mu.Unlock()

	if changed {
		s.logger.Info().Bool("on_air", live).Msg("on-air state changed")
		s.device.OnAir(live)
	}
}

func (s *Session) applyZoom(cmd *domain.ZoomCommand) {
	if cmd == nil {
		return
	}

	s.mu.Lock()
	if !cmd.RequestedAt.After(s.lastZoom) {
		s.mu.Unlock()
		return
	}
	s.lastZoom = cmd.RequestedAt
	s.mu.Unlock()

	if err := s.device.ApplyZoom(cmd.Level); err != nil {
		s.logger.Warn().Err(err).Float64("level", cmd.Level).Msg("failed to apply zoom")
	}
}

func (s *Session) heartbeat(ctx context.Context, sessionID string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.protocol.Heartbeat(ctx, s.cfg.ShowID, s.cfg.Slot, sessionID)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStaleDescriptor):
			s.markLost()
			return
		case ctx.Err() != nil:
			return
		default:
			s.logger.Warn().Err(err).Msg("heartbeat failed")
		}
	}
}

func (s *Session) markLost() {
	s.lostOne.Do(func() {
		s.logger.Warn().Msg("camera slot lost to another session")
		close(s.lost)
	})
}

// Close stops following the room, releases the peer connection and gives
// the slot back. Resources are released before it returns.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel, unwatch, conn := s.cancel, s.unwatch, s.conn
	s.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	wasOnAir := s.onAir
	s.onAir = false
	s.mu.Unlock()
	if wasOnAir {
		s.device.OnAir(false)
	}

	peerErr := s.peer.Close()

	var unregErr error
	if conn != nil {
		unregErr = s.unregister(ctx, conn.SessionID)
	}

	s.logger.Info().Msg("camera session closed")
	return errors.Join(peerErr, unregErr)
}

func (s *Session) unregister(ctx context.Context, sessionID string) error {
	err := s.protocol.UnregisterCamera(ctx, s.cfg.ShowID, s.cfg.Slot, sessionID)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to unregister camera")
	}
	return err
}
