package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/roomvoice/server/internal/auth"
	"github.com/roomvoice/server/internal/config"
	"github.com/roomvoice/server/internal/observability"
	"github.com/roomvoice/server/internal/personality"
	"github.com/roomvoice/server/internal/room"
	"github.com/roomvoice/server/internal/signaling"
	"github.com/roomvoice/server/internal/transcript"
)

// Server is the REST surface for the room coordination engine. The
// real-time surface (/ws) is served by signaling.Hub directly, mounted on
// the same root router but outside the API middleware stack.
type Server struct {
	router      chi.Router
	httpServer  *http.Server
	rooms       *room.Store
	transcripts *transcript.Store
	personas    *personality.Manager
	hub         *signaling.Hub
	jwt         *auth.JWTManager
	health      *observability.HealthChecker
	metrics     *observability.Metrics
	logger      zerolog.Logger
	cfg         config.ServerConfig
}

// New creates and configures a new API Server with all routes and
// middleware. jwtManager may be nil if only public routes (health/metrics)
// are needed.
// Complexity: O(1)
func New(
	cfg config.ServerConfig,
	rooms *room.Store,
	transcripts *transcript.Store,
	personas *personality.Manager,
	hub *signaling.Hub,
	jwtManager *auth.JWTManager,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		rooms:       rooms,
		transcripts: transcripts,
		personas:    personas,
		hub:         hub,
		jwt:         jwtManager,
		health:      health,
		metrics:     metrics,
		logger:      logger.With().Str("component", "api_server").Logger(),
		cfg:         cfg,
	}

	// Root router: keeps the WebSocket upgrade outside the API's
	// timeout/body-limit/rate-limit middleware.
	r := chi.NewRouter()

	if hub != nil {
		r.Get("/ws", hub.Handler())
	}

	apiRouter := chi.NewRouter()

	apiRouter.Use(middleware.RequestID)
	apiRouter.Use(middleware.RealIP)
	apiRouter.Use(RequestLogger(s.logger))
	apiRouter.Use(middleware.Recoverer)
	apiRouter.Use(middleware.Timeout(30 * time.Second))
	apiRouter.Use(SecurityHeaders())
	apiRouter.Use(CORSMiddleware(cfg.CORS))
	apiRouter.Use(MaxBodySize(1 << 20)) // 1 MB default body limit

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 100
	}
	apiRouter.Use(RateLimitWithHeaders(rps))

	if metrics != nil {
		apiRouter.Use(MetricsMiddleware(metrics))
	}

	apiRouter.Get("/health", s.handleHealth)
	apiRouter.Get("/health/live", s.handleLiveness)
	apiRouter.Get("/health/ready", s.handleReadiness)
	apiRouter.Handle("/metrics", promhttp.Handler())

	apiRouter.Group(func(protected chi.Router) {
		if jwtManager != nil {
			protected.Use(AuthMiddleware(jwtManager))
		}

		protected.Post("/rooms", s.handleCreateRoom)
		protected.Get("/rooms", s.handleListRooms)
		protected.Get("/rooms/{roomID}", s.handleGetRoom)
		protected.Get("/rooms/{roomID}/transcript", s.handleGetTranscript)
	})

	r.Mount("/", apiRouter)

	s.router = r
	return s
}

// Start begins listening for HTTP connections.
// It blocks until the server is shut down or an error occurs.
// Complexity: O(1) startup
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
// Complexity: O(1)
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the chi router as an http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth returns the aggregated health status from all registered checks.
// GET /health
// Complexity: O(n) where n is the number of registered health checks
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	result := s.health.Check(r.Context())

	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

// handleLiveness reports whether the process is alive.
// GET /health/live
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleReadiness reports whether the service is ready to receive traffic.
// GET /health/ready
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}

	result := s.health.Check(r.Context())
	status := http.StatusOK
	if result.IsUnhealthy() {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]string{"status": string(result.Status)})
}
