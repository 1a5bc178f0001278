package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-multicam/internal/broadcast"
	"github.com/weiawesome/wes-io-multicam/internal/clock"
	"github.com/weiawesome/wes-io-multicam/internal/config"
	"github.com/weiawesome/wes-io-multicam/internal/director"
	"github.com/weiawesome/wes-io-multicam/internal/events"
	"github.com/weiawesome/wes-io-multicam/internal/fallback"
	"github.com/weiawesome/wes-io-multicam/internal/handler"
	"github.com/weiawesome/wes-io-multicam/internal/hub"
	"github.com/weiawesome/wes-io-multicam/internal/metrics"
	"github.com/weiawesome/wes-io-multicam/internal/peer"
	"github.com/weiawesome/wes-io-multicam/internal/repository"
	"github.com/weiawesome/wes-io-multicam/internal/signaling"
	"github.com/weiawesome/wes-io-multicam/pkg/database"
	"github.com/weiawesome/wes-io-multicam/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-multicam/pkg/log"
	"github.com/weiawesome/wes-io-multicam/pkg/middleware"
	"github.com/weiawesome/wes-io-multicam/pkg/storage"
)

func main() {
	configPath := flag.String("config", "./config", "directory holding director.yaml")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadDirector(*configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx := context.Background()

	// Signaling store
	store, closeStore, err := signaling.Open(cfg.Signaling)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open signaling store")
	}
	defer closeStore()
	logger.Info().Str("driver", cfg.Signaling.Driver).Msg("signaling store ready")

	// Blob storage
	files, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	blobs := storage.NewBlobs(files)
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("blob storage ready")

	// Recording catalog
	var recordings repository.RecordingRepository
	if cfg.Database.Enabled {
		db, err := database.New(&cfg.Database.Config)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		repo := repository.NewGormRecordingRepository(db)
		if err := repo.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		recordings = repo
		logger.Info().Str("driver", cfg.Database.Driver).Msg("recording catalog ready")
	}

	// Kafka producer for broadcast events
	var producer events.Producer
	if cfg.Kafka.Enabled {
		p, err := events.NewConfluentProducer(cfg.Kafka.Config)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, broadcast events disabled")
		} else {
			defer p.Close()
			producer = p
			logger.Info().Str("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("connected to kafka")
		}
	}

	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenDuration)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token validator")
	}

	protocol := broadcast.NewProtocol(store, cfg.Camera)
	directors := director.NewManager(director.Deps{
		Protocol:         protocol,
		Fallback:         fallback.NewManager(store, blobs),
		Peers:            peer.NewPionFactory(cfg.WebRTC.Peer()),
		Blobs:            blobs,
		Recordings:       recordings,
		Events:           producer,
		Recording:        cfg.Recording,
		NegotiateTimeout: cfg.NegotiateTimeout,
	})

	for _, showID := range cfg.Shows {
		if _, err := directors.Get(ctx, showID); err != nil {
			logger.Fatal().Err(err).Str(pkglog.FieldShowID, showID).Msg("failed to open show")
		}
		logger.Info().Str(pkglog.FieldShowID, showID).Msg("show opened")
	}

	// Viewer hub
	feeds := &hub.Feeds{
		Protocol: protocol,
		Store:    store,
		Live:     directors.Live,
	}
	wsHub := hub.NewHub(cfg.WebSocket, feeds.Start)
	go wsHub.Run()

	met := metrics.New()

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.Use(met.GinMiddleware())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(met.Handler(func() {
		met.SetActiveShows(directors.Len())
		met.SetViewerTopics(wsHub.Topics())
	})))

	if cfg.Storage.Driver == "local" || cfg.Storage.Driver == "" {
		r.Static(cfg.Storage.Local.PublicURL, cfg.Storage.Local.BasePath)
	}

	handler.NewHandler(directors, clock.NewController(store, nil), recordings, middleware.NewAuthMiddleware(tokens), handler.WithMetrics(met)).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, cfg.Server.AllowedOrigins).RegisterRoutes(r)

	server := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     r,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("director listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down director")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	wsHub.Close()

	// Stops any recording in progress and uploads what was captured.
	if err := directors.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shows did not close cleanly")
	}

	logger.Info().Msg("director stopped")
}
