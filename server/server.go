package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wordflowlab/agentdeck"
	"github.com/wordflowlab/agentdeck/pkg/agentproc"
	"github.com/wordflowlab/agentdeck/pkg/checkpoint"
	"github.com/wordflowlab/agentdeck/pkg/convstore"
	"github.com/wordflowlab/agentdeck/pkg/events"
	"github.com/wordflowlab/agentdeck/server/observability"
)

// Server is the agentdeck HTTP server.
type Server struct {
	config *Config
	router *gin.Engine
	server *http.Server

	deps *Dependencies

	metrics       *observability.MetricsManager
	healthChecker *observability.HealthChecker
}

// Dependencies holds the engine components the HTTP layer fronts.
type Dependencies struct {
	Store       convstore.Store
	Manager     *agentproc.Manager
	Checkpoints *checkpoint.Manager
	Bus         *events.Bus
}

// New creates a new Server instance with the given configuration.
func New(config *Config, deps *Dependencies, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}

	if config.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
	}

	s.initializeObservability()

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// initializeObservability wires metrics and the health checker.
func (s *Server) initializeObservability() {
	if s.config.Observability.Metrics.Enabled {
		s.metrics = observability.NewMetricsManager("agentdeck")
	}

	if s.config.Observability.HealthCheck.Enabled {
		s.healthChecker = observability.NewHealthChecker(agentdeck.Version)

		s.healthChecker.RegisterCheck(observability.NewSimpleHealthCheck("store", func(ctx context.Context) error {
			_, err := s.deps.Checkpoints.Search(ctx, "")
			return err
		}))
	}
}

// setupMiddleware configures the middleware chain.
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())

	if s.config.Logging.Structured {
		s.router.Use(structuredLoggingMiddleware())
	} else {
		s.router.Use(gin.Logger())
	}

	if s.config.CORS.Enabled {
		s.router.Use(corsMiddleware(s.config.CORS))
	}

	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
}

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	if s.healthChecker != nil {
		s.router.GET(s.config.Observability.HealthCheck.Endpoint, s.healthCheck)
	}
	if s.metrics != nil {
		s.router.GET(s.config.Observability.Metrics.Endpoint, s.metrics.Handler())
	}

	v1 := s.router.Group("/api/v1")

	if s.config.Auth.APIKey.Enabled {
		v1.Use(apiKeyAuthMiddleware(s.config.Auth.APIKey))
	}
	if s.config.RateLimit.Enabled {
		v1.Use(rateLimitMiddleware(s.config.RateLimit))
	}

	s.setupAPIRoutes(v1)
}

// Start starts the HTTP server and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	fmt.Printf("agentdeck server listening on %s (mode: %s)\n", addr, s.config.Mode)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Router returns the underlying Gin router, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics returns the metrics manager, or nil when disabled.
func (s *Server) Metrics() *observability.MetricsManager {
	return s.metrics
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c *gin.Context) {
	if s.healthChecker != nil {
		c.JSON(http.StatusOK, s.healthChecker.Check(c.Request.Context()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   agentdeck.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
