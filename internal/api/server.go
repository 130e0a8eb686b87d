package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tripletake/tripletake/internal/auth"
	"github.com/tripletake/tripletake/internal/logger"
	"github.com/tripletake/tripletake/internal/merge"
	"github.com/tripletake/tripletake/internal/ratelimit"
	"github.com/tripletake/tripletake/internal/upload"
)

// Server holds dependencies for API handlers
type Server struct {
	uploads        *upload.Manager
	orchestrator   *merge.Orchestrator
	limiter        ratelimit.RateLimiter
	allowedOrigins []string
	version        string
}

// NewServer creates a new API server
func NewServer(uploads *upload.Manager, orchestrator *merge.Orchestrator, limiter ratelimit.RateLimiter, allowedOrigins []string, version string) *Server {
	return &Server{
		uploads:        uploads,
		orchestrator:   orchestrator,
		limiter:        limiter,
		allowedOrigins: allowedOrigins,
		version:        version,
	}
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)

	if len(s.allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Encoding", auth.OwnerHeader},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// Health check
	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleRoot)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)
		if s.limiter != nil {
			r.Use(ratelimit.Middleware(s.limiter))
		}

		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups/{groupID}", s.handleGroupStatus)
		r.Post("/groups/{groupID}/cancel", s.handleCancelGroup)
		r.Post("/groups/{groupID}/slots/{index}", s.handleReplaceSlot)

		r.Group(func(r chi.Router) {
			r.Use(decompressMiddleware())
			r.Put("/sessions/{sessionID}/chunks/{index}", s.handlePutChunk)
		})
		r.Post("/sessions/{sessionID}/complete", s.handleCompleteSession)
		r.Post("/sessions/{sessionID}/cancel", s.handleCancelSession)
		r.Get("/sessions/{sessionID}", s.handleSessionStatus)
	})

	return r
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// handleRoot returns API info
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"service": "tripletake-backend",
		"version": s.version,
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
