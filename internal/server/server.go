// Package server exposes the trading pipeline over HTTP: signal intake,
// preview confirmation and cancellation, order history, position and
// performance reads, a server-sent event stream, and system health.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ametov/tradewind/internal/database"
	"github.com/ametov/tradewind/internal/events"
	"github.com/ametov/tradewind/internal/modules/confirmation"
	"github.com/ametov/tradewind/internal/modules/execution"
	"github.com/ametov/tradewind/internal/modules/performance"
	"github.com/ametov/tradewind/internal/modules/positions"
	"github.com/ametov/tradewind/internal/queue"
)

// Deps are the wired services the handlers call into.
type Deps struct {
	Dispatcher  *queue.Dispatcher
	Previews    *confirmation.Service
	Orders      *execution.Service
	Tracker     *execution.Tracker
	Positions   *positions.Service
	Performance *performance.Service
	Bus         *events.Bus
	Databases   map[string]*database.DB
}

// Server is the HTTP front of the pipeline.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	startedAt  time.Time
	log        zerolog.Logger
}

// New creates the server and registers all routes.
func New(port int, deps Deps, log zerolog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		startedAt: time.Now().UTC(),
		log:       log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Liveness check, no dependencies touched
	s.router.Get("/health", s.handleLiveness)

	s.router.Route("/api", func(r chi.Router) {
		// Unified events stream (SSE) - must be before other routes for proper handling
		streamHandler := NewEventsStreamHandler(s.deps.Bus, s.log)
		r.Get("/events/stream", streamHandler.ServeHTTP)

		r.Route("/signals", func(r chi.Router) {
			r.Post("/generate", s.handleGenerateSignal)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/stats", s.handleQueueStats)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/preview", s.handleCreatePreview)
			r.Get("/preview/{previewID}", s.handleGetPreview)
			r.Post("/preview/{previewID}/confirm", s.handleConfirmPreview)
			r.Post("/preview/{previewID}/cancel", s.handleCancelPreview)
			r.Get("/history", s.handleOrderHistory)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Get("/{agentID}/positions", s.handleAgentPositions)
			r.Get("/{agentID}/performance", s.handleAgentPerformance)
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleSystemHealth)
		})
	})
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the configured router, used by tests to serve requests
// without binding a port.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleLiveness reports that the process is up. Dependency health lives
// under /api/system/health.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

// writeError writes a JSON error body with the given status code.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
