package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"duet/internal/constants"
	"duet/internal/httputil"
	"duet/internal/media"
	"duet/internal/middleware"
	"duet/internal/models"
	"duet/internal/ratelimit"
	"duet/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services bundles what the HTTP handlers call into.
type Services struct {
	Sessions   *service.SessionService
	Relay      *service.RelayService
	Consent    *service.ConsentService
	Recordings *service.RecordingService
	Store      Pinger
}

type Server struct {
	router   *mux.Router
	logger   *logrus.Logger
	cfg      *models.Config
	svc      Services
	limiter  ratelimit.Limiter
	media    media.Router
	proxies  httputil.TrustedProxies
	verbose  bool
	server   *http.Server
	maxBytes int64
}

func New(cfg *models.Config, svc Services, limiter ratelimit.Limiter, logger *logrus.Logger, verbose bool) (*Server, error) {
	proxies, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		cfg:      cfg,
		svc:      svc,
		limiter:  limiter,
		media:    media.NewRouter(),
		proxies:  proxies,
		verbose:  verbose,
		maxBytes: 1 << 20,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger, s.proxies))
	if s.verbose {
		s.router.Use(s.verboseContext)
		s.router.Use(middleware.DetailedLoggingMiddleware(s.logger, middleware.DefaultDetailedLoggingConfig()))
	}

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	s.router.HandleFunc(constants.DefaultRecordingsRoute+"/{file}", s.handleServeRecording()).Methods(http.MethodGet)

	api := s.router.PathPrefix(constants.DefaultAPIPrefix).Subrouter()
	api.Use(middleware.RateLimitMiddleware(s.limiter, s.proxies, s.logger))

	// Matchmaking
	api.HandleFunc("/sessions", s.handleCreateSession()).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{sessionId}", s.handleGetSession()).Methods(http.MethodGet)
	api.HandleFunc("/match", s.handleMatch()).Methods(http.MethodPost)
	api.HandleFunc("/catch", s.handleCatch()).Methods(http.MethodPost)
	api.HandleFunc("/to/{targetUsername}", s.handleCreateTargeted()).Methods(http.MethodPost)
	api.HandleFunc("/waiting", s.handleListWaiting()).Methods(http.MethodGet)
	api.HandleFunc("/end", s.handleEndSession()).Methods(http.MethodPost)

	// Relay
	api.HandleFunc("/signal", s.handleSendSignal()).Methods(http.MethodPost)
	api.HandleFunc("/signal", s.handleFetchSignals()).Methods(http.MethodGet)
	api.HandleFunc("/signal/mark-processed", s.handleMarkSignalProcessed()).Methods(http.MethodPost)
	api.HandleFunc("/messages", s.handlePostMessage()).Methods(http.MethodPost)
	api.HandleFunc("/messages/{sessionId}", s.handleListMessages()).Methods(http.MethodGet)

	// Consent
	api.HandleFunc("/upload-recording", s.handleUploadRecording()).Methods(http.MethodPost)
	api.HandleFunc("/pending-items", s.handleCreateItem()).Methods(http.MethodPost)
	api.HandleFunc("/pending-items/user/{userId}", s.handleListItemsForUser()).Methods(http.MethodGet)
	api.HandleFunc("/pending-items/session/{sessionId}", s.handleGetItemBySession()).Methods(http.MethodGet)
	api.HandleFunc("/pending-items/{itemId}", s.handleGetItem()).Methods(http.MethodGet)
	api.HandleFunc("/pending-items/{itemId}", s.handleUpdateItem()).Methods(http.MethodPatch)
	api.HandleFunc("/pending-items/{itemId}/edits", s.handleProposeEdit()).Methods(http.MethodPost)
	api.HandleFunc("/pending-items/{itemId}/edits", s.handleListEdits()).Methods(http.MethodGet)
	api.HandleFunc("/edits/{editId}/approve", s.handleApproveEdit()).Methods(http.MethodPost)
	api.HandleFunc("/posts/tagged/{userId}", s.handleListTaggedPosts()).Methods(http.MethodGet)
	api.HandleFunc("/posts/{postId}", s.handleGetPost()).Methods(http.MethodGet)
}

// Handler exposes the routed handler for embedding in test servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) verboseContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(service.WithVerboseLogging(r.Context(), true)))
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.svc.Store.Ping(ctx); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
