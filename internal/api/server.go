// Package api exposes the decision-support engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hba1c-validation-server/internal/audit"
	"github.com/hba1c-validation-server/internal/domain"
	"github.com/hba1c-validation-server/internal/middleware"
	"github.com/hba1c-validation-server/internal/service"
)

// ServiceName identifies the service in health responses.
const ServiceName = "HbA1c Validation API"

// Server represents the HTTP server.
type Server struct {
	cfg     *domain.Config
	logger  *logrus.Logger
	trainer *service.Trainer
	store   audit.Store
	router  *gin.Engine
	server  *http.Server
}

// NewServer creates a new HTTP server instance.
func NewServer(cfg *domain.Config, logger *logrus.Logger, trainer *service.Trainer, store audit.Store) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS())
	router.Use(middleware.CorrelationID())
	if cfg.Server.RateLimit > 0 {
		router.Use(middleware.RateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst))
	}

	server := &Server{
		cfg:     cfg,
		logger:  logger,
		trainer: trainer,
		store:   store,
		router:  router,
	}

	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the configured routes; used by handler tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/validate-hba1c", s.handleValidateHbA1c)
		api.POST("/detect-anomaly", s.handleDetectAnomaly)
		api.POST("/predict-disorder", s.handlePredictDisorder)
		api.POST("/correct-hba1c", s.handleCorrectHbA1c)
		api.POST("/batch-validate", s.handleBatchValidate)
		api.GET("/model-info", s.handleModelInfo)
		api.GET("/example-request", s.handleExampleRequest)
		api.GET("/assessments/recent", s.handleRecentAssessments)
	}
}
