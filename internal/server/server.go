// Package server implements the minimal operational HTTP surface spec
// §6 allows alongside the command interface: /healthz, /snapshot-ledger,
// /kill-all, /pause-account/{id}. No other user-visible surface is part
// of the core — spec §1 explicitly scopes out an HTTP/UI surface beyond
// this. Grounded on the teacher's internal/server package: chi router,
// the same middleware stack (Recoverer, RequestID, RealIP, a zerolog
// request logger, Timeout, cors.Handler), narrowed from its ~30-module
// brokerage route tree down to the four operational endpoints this
// engine exposes.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Server is the operational HTTP surface. It owns no business logic of
// its own; every handler delegates to the already-wired engine
// components passed into New.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger
}

// Config bundles the collaborators the operational surface's handlers
// need.
type Config struct {
	Log       zerolog.Logger
	Port      int
	Health    HealthReporter
	Ledger    LedgerController
	Accounts  AccountController
	DevMode   bool
}

// New builds a Server with routes and middleware configured, not yet
// listening.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "operational_server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg)

	s.http = &http.Server{
		Addr:         portAddr(cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes(cfg Config) {
	h := &handlers{log: s.log, health: cfg.Health, ledger: cfg.Ledger, accounts: cfg.Accounts}

	s.router.Get("/healthz", h.handleHealthz)
	s.router.Post("/snapshot-ledger", h.handleSnapshotLedger)
	s.router.Post("/kill-all", h.handleKillAll)
	s.router.Post("/pause-account/{id}", h.handlePauseAccount)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Router returns the underlying http.Handler, for tests driving routes
// directly via httptest without binding a real port.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks serving HTTP until the context is cancelled,
// then shuts the server down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8080
	}
	return ":" + strconv.Itoa(port)
}
