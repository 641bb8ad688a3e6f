// Package api provides the HTTP surface for ObatPing.
//
// It exposes the WhatsApp gateway webhook, health and volunteer notification
// endpoints, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RumahPulih/ObatPing/internal/flow"
	"github.com/RumahPulih/ObatPing/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultAddr is the default listen address.
const DefaultAddr = ":8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	APIToken string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAPIToken enables bearer token authentication on the webhook and
// notification endpoints.
func WithAPIToken(token string) Option {
	return func(o *Opts) { o.APIToken = token }
}

// Server wires the router pipeline to HTTP.
type Server struct {
	router *flow.Router
	store  store.Store
	addr   string
	token  string
	mux    *chi.Mux
	srv    *http.Server
}

// NewServer creates the API server and registers all routes.
func NewServer(router *flow.Router, st store.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Server{
		router: router,
		store:  st,
		addr:   cfg.Addr,
		token:  cfg.APIToken,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(middleware.Recoverer)
	mux.Use(metricsMiddleware)

	mux.Handle("/metrics", promhttp.Handler())

	mux.Group(func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Get("/health", s.healthHandler)
		r.Post("/webhook/whatsapp", s.webhookHandler)
		r.Get("/notifications", s.notificationsHandler)
	})

	s.mux = mux
	return s
}

// Handler returns the HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run starts the HTTP server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}
