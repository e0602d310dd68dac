// Package server provides the HTTP server setup and routing configuration.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stwalsh4118/cadence/internal/api"
	"github.com/stwalsh4118/cadence/internal/config"
	"github.com/stwalsh4118/cadence/internal/db"
	"github.com/stwalsh4118/cadence/internal/device"
	"github.com/stwalsh4118/cadence/internal/logger"
	"github.com/stwalsh4118/cadence/internal/middleware"
	"github.com/stwalsh4118/cadence/internal/playback"
	"github.com/stwalsh4118/cadence/internal/resolver"
)

// Server represents the HTTP server
type Server struct {
	config  *config.Config
	db      *db.DB
	repos   *db.Repositories
	gateway *resolver.Gateway
	manager *playback.Manager
	router  *gin.Engine
	server  *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, database *db.DB) *Server {
	repos := db.NewRepositories(database)

	gateway := resolver.NewGateway(resolver.Options{
		ArtifactDir:      cfg.Resolver.ArtifactDir,
		Proxy:            cfg.Resolver.Proxy,
		Timeout:          cfg.Resolver.Timeout,
		Workers:          cfg.Resolver.Workers,
		RateLimit:        cfg.Resolver.RateLimit,
		RateBurst:        cfg.Resolver.RateBurst,
		CircuitThreshold: cfg.Resolver.CircuitThreshold,
		CircuitReset:     cfg.Resolver.CircuitReset,
	})

	factory := device.NewFFmpegFactory(device.FFmpegConfig{
		Path:     cfg.Device.FFmpegPath,
		Format:   cfg.Device.OutputFormat,
		Target:   cfg.Device.OutputTarget,
		Realtime: cfg.Device.Realtime,
	})

	manager := playback.NewManager(
		&cfg.Playback,
		resolver.ParseMode(cfg.Resolver.Mode),
		gateway,
		factory,
		repos.History,
		nil,
	)

	return &Server{
		config:  cfg,
		db:      database,
		repos:   repos,
		gateway: gateway,
		manager: manager,
	}
}

// setupRouter initializes the Gin router with middleware and routes
func (s *Server) setupRouter() {
	// Set Gin mode based on log level
	if s.config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	s.router.Use(middleware.RequestLogger()) // Custom zerolog request logger
	s.router.Use(gin.Recovery())             // Panic recovery
	s.router.Use(cors.Default())             // CORS support (allows all origins)

	apiGroup := s.router.Group("/api")

	api.SetupHealthRoutes(apiGroup, s.db, s.gateway.Breaker())
	api.SetupSessionRoutes(apiGroup, s.manager, s.repos.History)
}

// Start starts the playback manager and then the HTTP server.
// It blocks until the server stops.
func (s *Server) Start() error {
	s.setupRouter()

	if err := s.manager.Start(); err != nil {
		return fmt.Errorf("failed to start playback manager: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	s.server = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	logger.Log.Info().
		Str("host", s.config.Server.Host).
		Int("port", s.config.Server.Port).
		Str("resolver_mode", s.config.Resolver.Mode).
		Msg("Starting HTTP server")

	return s.server.ListenAndServe()
}

// Shutdown stops accepting requests, then tears down every session
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Log.Info().Msg("Shutting down server gracefully")

	// Check if server was started before attempting shutdown
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	if s.manager != nil {
		s.manager.Stop()
	}

	logger.Log.Info().Msg("Server stopped")
	return nil
}
