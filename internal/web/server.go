// Package web provides the HTTP server of the upload service.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/formingest/internal/config"
	"github.com/JonMunkholm/formingest/internal/ingest"
	"github.com/JonMunkholm/formingest/internal/ledger"
	"github.com/JonMunkholm/formingest/internal/web/middleware"
)

// Server is the HTTP server of the upload service.
type Server struct {
	cfg     *config.Config
	store   ledger.Store
	limiter *ingest.Limiter
	router  *chi.Mux
	server  *http.Server

	rate       *rateLimiter
	uploadRate *rateLimiter
}

// NewServer wires routes and middleware. Stop it with Shutdown.
func NewServer(cfg *config.Config, store ledger.Store) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		limiter: ingest.NewLimiter(cfg.Ingest.MaxConcurrent, cfg.Ingest.MaxWaitTime),
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.rate = newRateLimiter(cfg.Rate.RequestsPerMinute, time.Minute)
		s.uploadRate = newRateLimiter(cfg.Rate.UploadLimit, time.Minute)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes. There is no
// request timeout middleware: upload bodies are bounded by the ingest idle
// timeout instead.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
	if s.rate != nil {
		s.router.Use(s.rate.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/", s.handleIndex)
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		r.Group(func(r chi.Router) {
			if s.uploadRate != nil {
				r.Use(s.uploadRate.middleware)
			}
			r.Use(s.limiter.Middleware(uploadBusy))
			r.Use(ingest.Middleware(s.ingestOptions()))
			r.Post("/upload", s.handleUpload)
		})

		r.Get("/uploads", s.handleListUploads)
		r.Get("/uploads/{id}", s.handleGetUpload)
	})
}

// ingestOptions routes ingestion failures through respondError. A limit
// handler makes per-part hits abort, so it is only installed with
// AbortOnLimit; otherwise aggregate hits get the plain ResponseOnLimit text.
func (s *Server) ingestOptions() ingest.Options {
	opts := s.cfg.IngestOptions()
	opts.FilesLimitHandler = ingestFailure
	opts.ErrorHandler = ingestFailure
	if opts.AbortOnLimit {
		opts.LimitHandler = ingestFailure
	}
	return opts
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:              sc.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: sc.ReadHeaderTimeout,
		WriteTimeout:      sc.WriteTimeout,
		IdleTimeout:       sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown waits for active ingestions to drain, then stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rate != nil {
		s.rate.Stop()
		s.uploadRate.Stop()
	}

	if active := s.limiter.ActiveCount(); active > 0 {
		slog.Info("waiting for uploads to complete", "active", active)
		if err := s.limiter.WaitForDrain(ctx); err != nil {
			slog.Warn("uploads did not complete in time", "error", err)
		}
	}

	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(csp bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if csp {
				h.Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:")
			}
			next.ServeHTTP(w, r)
		})
	}
}
