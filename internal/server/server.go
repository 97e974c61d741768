// Package server assembles the HTTP surface: the signed interactions
// endpoint and health reporting.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/gcolon75/Project-Valine-sub002/internal/interaction"
	"github.com/gcolon75/Project-Valine-sub002/internal/logging"
	"github.com/gcolon75/Project-Valine-sub002/internal/otel"
	cmdrouter "github.com/gcolon75/Project-Valine-sub002/internal/router"
)

const defaultTimeout = 10 * time.Second

// Server holds the dependencies behind the HTTP endpoints.
type Server struct {
	router    *chi.Mux
	verifier  *interaction.Verifier
	dispatch  *cmdrouter.Router
	logger    *logging.Logger
	version   string
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s).
func NewServer(verifier *interaction.Verifier, dispatch *cmdrouter.Router, logger *logging.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		verifier:  verifier,
		dispatch:  dispatch,
		logger:    logger,
		version:   "dev",
		startTime: time.Now(),
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured http.Handler. The interactions endpoint is
// registered without the default request timeout: long-running commands are
// acknowledged immediately and finish in the background, so the handler's own
// ack deadline governs.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())

	r.With(middleware.Timeout(defaultTimeout)).Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.verifySignature)
		r.Post("/interactions", s.handleInteraction)
	})

	return r
}
