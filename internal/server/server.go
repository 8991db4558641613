package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/engine"
	"github.com/datalegis/lgpd-sentinel/internal/entity"
	"github.com/datalegis/lgpd-sentinel/internal/events"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/report"
)

// Deps are the collaborators the HTTP layer exposes.
type Deps struct {
	Engine     *engine.Engine
	Reports    report.Store
	Registry   *registry.Registry
	Recognizer entity.Recognizer
	Hub        *events.Hub
}

// Server is the compliance API server.
type Server struct {
	cfg      *config.Config
	logger   *logger.Logger
	deps     Deps
	router   *mux.Router
	server   *http.Server
	limiters *clientLimiters
	started  time.Time
}

// New creates the API server.
func New(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   log.WithComponent("server"),
		deps:     deps,
		router:   mux.NewRouter(),
		limiters: newClientLimiters(cfg.Server.RateLimit.RequestsPerSecond, cfg.Server.RateLimit.Burst),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if s.cfg.WebSocket.Enabled {
		s.router.HandleFunc(s.cfg.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/ingestions/{id}/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/ingestions/{id}/lgpd-report", s.handleReport).Methods("GET")
	api.HandleFunc("/ingestions/{id}/pii", s.handlePII).Methods("GET")
}

// Start runs the event hub and serves until shutdown.
func (s *Server) Start() error {
	s.started = time.Now()
	s.logger.Info("Starting LGPD sentinel server",
		zap.Int("port", s.cfg.Server.Port),
		zap.String("recognizer", s.deps.Recognizer.Name()),
		zap.Int("registry_types", s.deps.Registry.Len()),
	)

	if s.deps.Hub != nil {
		go s.deps.Hub.Run()
	}
	return s.server.ListenAndServe()
}

// Stop gracefully stops the server and the event hub.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping LGPD sentinel server")
	if s.deps.Hub != nil {
		s.deps.Hub.Stop()
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.deps.Hub.HandleWebSocket(w, r)
}
