package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/camera"
	"github.com/weiawesome/wes-io-multicam/internal/config"
	"github.com/weiawesome/wes-io-multicam/internal/domain"
	"github.com/weiawesome/wes-io-multicam/internal/peer"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	pkglog "github.com/weiawesome/wes-io-multicam/pkg/log"
)

type status struct {
	ShowID    string        `json:"showId"`
	Slot      domain.SlotID `json:"slotId"`
	SessionID string        `json:"sessionId,omitempty"`
	OnAir     bool          `json:"onAir"`
	Zoom      float64       `json:"zoom"`
}

func main() {
	configPath := flag.String("config", "./config", "directory holding camera.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadCamera(*configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L().With().
		Str(pkglog.FieldShowID, cfg.Agent.ShowID).
		Str(pkglog.FieldSlotID, cfg.Agent.Slot).
		Logger()

	slot := domain.SlotID(cfg.Agent.Slot)
	ctx, cancel := context.WithCancel(pkglog.WithLogger(context.Background(), logger))
	defer cancel()

	store, closeStore, err := signaling.Open(cfg.Signaling)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open signaling store")
	}
	defer closeStore()

	mime, err := camera.IVFMimeType(cfg.Agent.VideoFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.Agent.VideoFile).Msg("unusable video file")
	}
	track, err := peer.NewVideoTrack(mime, "camera-"+cfg.Agent.Slot)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create video track")
	}

	pc, err := peer.NewPionFactory(cfg.WebRTC.Peer()).NewSession(track)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create peer session")
	}

	device := camera.NewIVFStreamer(cfg.Agent.VideoFile, cfg.Agent.Loop)
	session := camera.NewSession(broadcast.NewProtocol(store, cfg.Broadcast), pc, device, camera.Config{
		ShowID:            cfg.Agent.ShowID,
		Slot:              slot,
		DeviceName:        cfg.Agent.DeviceName,
		HeartbeatInterval: cfg.Agent.HeartbeatInterval,
	})
	if err := session.Start(ctx); err != nil {
		_ = pc.Close()
		logger.Fatal().Err(err).Msg("failed to join show")
	}

	streamDone := make(chan error, 1)
	go func() { streamDone <- device.Run(ctx, track) }()

	// Status endpoint
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	router.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		onAir, zoom := device.State()
		st := status{ShowID: cfg.Agent.ShowID, Slot: slot, OnAir: onAir, Zoom: zoom}
		if conn := session.Connection(); conn != nil {
			st.SessionID = conn.SessionID
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(st)
	}).Methods("GET")

	corsOpts := []handlers.CORSOption{handlers.AllowedMethods([]string{"GET", "OPTIONS"})}
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsOpts = append(corsOpts, handlers.AllowedOrigins(cfg.Server.AllowedOrigins))
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      pkglog.HTTPMiddleware(logger)(handlers.CORS(corsOpts...)(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("camera agent status listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("status server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("shutting down camera agent")
	case <-session.Lost():
		logger.Warn().Msg("slot taken over by another camera")
	case err := <-streamDone:
		if err != nil {
			logger.Error().Err(err).Msg("video stream stopped")
		} else {
			logger.Info().Msg("video file finished")
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("status server forced to shutdown")
	}
	if err := session.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("camera session did not close cleanly")
	}

	logger.Info().Msg("camera agent stopped")
}
