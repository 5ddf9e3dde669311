package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/opsgrid/alarmd/internal/config"
	"github.com/opsgrid/alarmd/internal/engine/correlation"
	"github.com/opsgrid/alarmd/internal/pkg/logger"
	"github.com/opsgrid/alarmd/internal/pkg/metrics"
	"github.com/opsgrid/alarmd/internal/services"
)

// AlarmProcessor is the pipeline intake the ingest handlers enqueue into
type AlarmProcessor interface {
	Process(alarmID int64) error
}

// Server is the HTTP ingest and operations surface
type Server struct {
	httpServer *http.Server
	router     chi.Router
	logger     *logger.Logger

	alarms      *services.AlarmService
	suppression *services.SuppressionService
	maintenance *services.MaintenanceService
	analyzer    *correlation.Analyzer
	pipeline    AlarmProcessor

	started time.Time
}

func New(
	cfg config.ServerConfig,
	alarms *services.AlarmService,
	suppression *services.SuppressionService,
	maintenance *services.MaintenanceService,
	analyzer *correlation.Analyzer,
	pipeline AlarmProcessor,
	log *logger.Logger,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      log,
		alarms:      alarms,
		suppression: suppression,
		maintenance: maintenance,
		analyzer:    analyzer,
		pipeline:    pipeline,
		started:     time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/status", s.handleStatus)
	s.router.Method(http.MethodGet, "/metrics", metrics.Handler())

	s.router.Route("/api/alarms", func(r chi.Router) {
		r.Post("/", s.handleIngestAlarm)
		r.Get("/", s.handleListAlarms)
		r.Get("/{id}", s.handleGetAlarm)
		r.Post("/{id}/process", s.handleReprocessAlarm)
		r.Post("/{id}/acknowledge", s.handleAcknowledgeAlarm)
		r.Post("/{id}/resolve", s.handleResolveAlarm)
	})

	s.router.Route("/api/suppressions", func(r chi.Router) {
		r.Post("/", s.handleCreateSuppressionRule)
		r.Get("/{id}", s.handleGetSuppressionRule)
		r.Put("/{id}/status", s.handleUpdateSuppressionStatus)
	})

	s.router.Post("/api/maintenance-windows", s.handleCreateMaintenanceWindow)
	s.router.Get("/api/correlations", s.handleCorrelations)
}

// requestLogger logs each request with its status and duration
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.With("addr", s.httpServer.Addr).Info("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler tree, for tests
func (s *Server) Router() http.Handler {
	return s.router
}
