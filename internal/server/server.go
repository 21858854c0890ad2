package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/keyforge/keyforge/internal/handler"
	"github.com/keyforge/keyforge/internal/metrics"
	"github.com/keyforge/keyforge/internal/server/middleware"
	"github.com/keyforge/keyforge/internal/service"
	"github.com/keyforge/keyforge/internal/store"
	"github.com/keyforge/keyforge/internal/ui"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// RateLimit is the per-IP requests-per-minute budget for the public
	// license API. LoginRateLimit applies to dashboard login attempts.
	RateLimit      int
	LoginRateLimit int
	CookieSecure   bool
	Version        string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		RateLimit:       120,
		LoginRateLimit:  10,
		Version:         "dev",
	}
}

// Deps are the services the server routes requests to.
type Deps struct {
	Store    *store.Store
	Auth     *service.AuthService
	Licenses *service.LicenseService
	Ledger   *service.LedgerService
	Metrics  *metrics.Metrics
	// MCP, when set, is mounted at /mcp for admin sessions.
	MCP http.Handler
}

// Server is the top-level HTTP server for keyforge. It owns the Chi router
// and the services behind the public license API and the dashboard.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger, s.deps.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: corsCredentials(s.cfg.CORSOrigins),
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks and metrics (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	// --- OpenAPI document (no auth required) ---
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)

	// --- Login page ---
	r.Get(middleware.LoginPath, s.handleLoginPage)

	// --- Public license API ---
	licenseHandler := handler.NewLicenseHandler(s.deps.Licenses, s.logger)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.RateLimit))
		r.Post("/activate", licenseHandler.Activate)
		r.Post("/verify", licenseHandler.Verify)
	})

	// --- Dashboard API ---
	dash := handler.NewDashboardHandler(s.deps.Auth, s.deps.Licenses, s.deps.Ledger, s.cfg.CookieSecure, s.logger)
	r.Route("/dashboard", func(r chi.Router) {
		// Login is unauthenticated; logout only needs the cookie it revokes.
		r.With(middleware.RateLimit(s.cfg.LoginRateLimit)).Post("/session", dash.Login)
		r.Delete("/session", dash.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth))

			r.Get("/me", dash.Me)

			r.Get("/keys", dash.ListKeys)
			r.Post("/keys", dash.GenerateKeys)
			r.Delete("/keys", dash.DeleteKeysByPrefix)
			r.Get("/keys/export", dash.ExportKeys)
			r.Delete("/keys/{key}", dash.DeleteKey)

			r.Get("/prices", dash.ListPrices)

			// Admin only
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())

				r.Get("/moderators", dash.ListModerators)
				r.Post("/moderators", dash.CreateModerator)
				r.Delete("/moderators/{id}", dash.DeleteModerator)
				r.Post("/moderators/{id}/clear-debt", dash.ClearDebt)

				r.Put("/prices", dash.UpsertPrices)
			})
		})
	})

	// --- MCP over streamable HTTP (admin sessions) ---
	if s.deps.MCP != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Auth))
			r.Use(middleware.RequireAdmin())
			r.Handle("/mcp", s.deps.MCP)
		})
	}

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the key store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.deps.Store.Ping(ctx); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// handleLoginPage serves the embedded dashboard login form.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	page, err := fs.ReadFile(ui.Pages(), "login.html")
	if err != nil {
		http.Error(w, "login page not available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(page)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.deps.Store.Close(); err != nil {
		s.logger.Warn("closing store", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// corsCredentials reports whether cross-origin requests may carry the session
// cookie. Only an explicit origin list qualifies; an empty list is treated as
// "*" by the cors package.
func corsCredentials(origins []string) bool {
	return len(origins) > 0 && !slices.Contains(origins, "*")
}
