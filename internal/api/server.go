package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/spoolvault/internal/api/handler"
	mw "github.com/edvin/spoolvault/internal/api/middleware"
	"github.com/edvin/spoolvault/internal/core"
	"github.com/edvin/spoolvault/internal/destination"
)

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	pool     *pgxpool.Pool
	registry *destination.Registry
}

func NewServer(logger zerolog.Logger, pool *pgxpool.Pool, services *core.Services, registry *destination.Registry) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		pool:     pool,
		registry: registry,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	auth := handler.NewAuth(s.services.Session)
	backup := handler.NewBackup(s.services.Destination, s.services.History,
		s.services.OAuthState, s.services.Orchestrator, s.registry)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", auth.Login)

		// The provider redirects the browser here; the state token, not a
		// session, proves who started the flow.
		r.Get("/backup/oauth/callback", backup.OAuthCallback)

		r.Group(func(r chi.Router) {
			r.Use(mw.Auth(s.services.Session))

			r.Post("/auth/logout", auth.Logout)

			r.Get("/backup/status", backup.Status)
			r.Post("/backup/auth/{destination}", backup.AuthURL)
			r.Post("/backup/configure", backup.Configure)
			r.Patch("/backup/{destination}/toggle", backup.Toggle)
			r.Delete("/backup/{destination}", backup.Disconnect)
			r.Post("/backup/{destination}/backup", backup.BackupNow)
			r.Get("/backup/history", backup.History)
			r.Get("/backup/download", backup.Download)
			r.Post("/backup/restore-zip", backup.RestoreZip)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireAdmin)
				r.Get("/backup/admin/download", backup.DownloadAdmin)
				r.Post("/backup/admin/restore-zip", backup.RestoreAdminZip)
			})
		})
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := s.pool.Ping(ctx); err != nil {
		checks["db"] = err.Error()
		healthy = false
	} else {
		checks["db"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
