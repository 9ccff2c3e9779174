// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-authgate.
//
// go-authgate is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package rest

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-authgate/pkg/auth"
	"github.com/jeremyhahn/go-authgate/pkg/metrics"
	"github.com/jeremyhahn/go-authgate/pkg/mfa"
	"github.com/jeremyhahn/go-authgate/pkg/passkey"
	"github.com/jeremyhahn/go-authgate/pkg/ratelimit"
)

// Server represents the REST API server.
type Server struct {
	server   *http.Server
	passkeys *passkey.Service
	manager  *mfa.Manager
	facade   *auth.Facade
	limiter  *ratelimit.Limiter
	addr     string
	tls      *tls.Config
	metrics  MetricsConfig
	logger   *slog.Logger
}

// MetricsConfig controls the Prometheus endpoint exposure.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Config holds the REST server configuration.
type Config struct {
	// Addr is the host:port to listen on (default: ":8443")
	Addr string

	// PasskeyService runs WebAuthn ceremonies (required)
	PasskeyService *passkey.Service

	// MfaManager manages TOTP and backup codes (required)
	MfaManager *mfa.Manager

	// Facade runs authentication attempts (required)
	Facade *auth.Facade

	// RateLimiter enforces per-client rate limits (optional)
	RateLimiter *ratelimit.Limiter

	// TLSConfig is the TLS configuration for HTTPS (optional)
	TLSConfig *tls.Config

	// Metrics controls the /metrics endpoint
	Metrics MetricsConfig

	// Logger receives request logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes
	WriteTimeout time.Duration

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration
}

// NewServer creates a new REST API server.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.PasskeyService == nil {
		return nil, fmt.Errorf("passkey service is required")
	}
	if cfg.MfaManager == nil {
		return nil, fmt.Errorf("mfa manager is required")
	}
	if cfg.Facade == nil {
		return nil, fmt.Errorf("facade is required")
	}

	if cfg.Addr == "" {
		cfg.Addr = ":8443"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	server := &Server{
		passkeys: cfg.PasskeyService,
		manager:  cfg.MfaManager,
		facade:   cfg.Facade,
		limiter:  cfg.RateLimiter,
		addr:     cfg.Addr,
		tls:      cfg.TLSConfig,
		metrics:  cfg.Metrics,
		logger:   logger,
	}

	router := server.setupRouter()

	server.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		TLSConfig:    cfg.TLSConfig,
	}

	return server, nil
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.RecoveryMiddleware())
	r.Use(s.LoggingMiddleware())
	r.Use(metrics.HTTPMiddleware)
	r.Use(CORSMiddleware)
	if s.limiter != nil {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	r.Get("/healthz", s.HealthHandler)

	if s.metrics.Enabled {
		r.Handle(s.metrics.Path, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.IdentityMiddleware())

		r.Route("/webauthn", func(r chi.Router) {
			r.Get("/register/options", s.RegisterOptionsHandler)
			r.Post("/register", s.RegisterFinishHandler)
			r.Get("/authenticate/options", s.AuthenticateOptionsHandler)
			r.Post("/authenticate", s.AuthenticateFinishHandler)
			r.Get("/credentials", s.ListCredentialsHandler)
			r.Delete("/credentials/{credentialID}", s.DeleteCredentialHandler)
		})

		r.Route("/mfa", func(r chi.Router) {
			r.Post("/", s.MfaSetupHandler)
			r.Put("/", s.MfaConfirmHandler)
			r.Delete("/", s.MfaDisableHandler)
			r.Post("/verify", s.MfaVerifyHandler)
			r.Post("/backup-codes/regenerate", s.RegenerateBackupCodesHandler)
			r.Get("/backup-codes/status", s.BackupCodeStatusHandler)
		})
	})

	return r
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the REST API server.
func (s *Server) Start() error {
	if s.tls != nil {
		s.logger.Info("starting HTTPS server", slog.String("addr", s.addr))
		if err := s.server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	} else {
		s.logger.Info("starting HTTP server", slog.String("addr", s.addr))
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	return nil
}

// Stop gracefully stops the REST API server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.addr
}
