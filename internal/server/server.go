package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultHTTPAddr is the default listen address for the agent API.
	DefaultHTTPAddr = ":8080"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultIdleTimeout       = 120 * time.Second
)

// Config configures the agent HTTP server.
type Config struct {
	Addr string
	// PublicURL is where clients and OAuth providers reach the server.
	// Optional; when set it must be HTTPS unless it is a loopback address.
	PublicURL string
	Auth      AuthConfig
}

// Server serves the agent, OAuth connect and health endpoints.
type Server struct {
	sc         *ServerContext
	health     *HealthChecker
	handler    http.Handler
	httpServer *http.Server
	addr       string
}

// New builds the router. Nothing listens until Start.
func New(cfg Config, sc *ServerContext) (*Server, error) {
	if sc == nil || sc.Runner() == nil {
		return nil, errors.New("server context with an agent runner is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultHTTPAddr
	}
	if cfg.PublicURL != "" {
		if err := validateHTTPSRequirement(cfg.PublicURL); err != nil {
			return nil, err
		}
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowUserHeader {
		return nil, errors.New("either a JWT secret or the user header fallback must be configured")
	}

	s := &Server{
		sc:     sc,
		health: NewHealthChecker(sc),
		addr:   cfg.Addr,
	}
	s.handler = s.routes(cfg)
	return s, nil
}

func (s *Server) routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(recordRequests(s.sc))

	r.Method(http.MethodGet, "/healthz", s.health.LivenessHandler())
	r.Method(http.MethodGet, "/readyz", s.health.ReadinessHandler())
	r.Method(http.MethodGet, "/healthz/detailed", s.health.DetailedHealthHandler())
	r.Method(http.MethodGet, "/agent/health", s.health.AgentHealthHandler())

	auth := requireUser(cfg.Auth, s.sc)
	r.With(auth).Post("/agent/calendar", handleAgentCalendar(s.sc))
	if s.sc.Connector() != nil {
		mountOAuth(r, s.sc, auth)
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker so callers can flip readiness.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start listens and serves until Shutdown. WriteTimeout is left at zero
// because agent responses are long-lived streams.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	s.sc.Logger().Info("starting agent server", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, cancels in-flight runs and waits for
// handlers to return.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.sc.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	s.sc.Logger().Info("shutting down agent server")
	return s.httpServer.Shutdown(ctx)
}
