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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jeremyhahn/go-authgate/internal/config"
	"github.com/jeremyhahn/go-authgate/internal/password"
	"github.com/jeremyhahn/go-authgate/internal/rest"
	"github.com/jeremyhahn/go-authgate/pkg/auth"
	"github.com/jeremyhahn/go-authgate/pkg/challenge"
	"github.com/jeremyhahn/go-authgate/pkg/logging"
	"github.com/jeremyhahn/go-authgate/pkg/metrics"
	"github.com/jeremyhahn/go-authgate/pkg/mfa"
	"github.com/jeremyhahn/go-authgate/pkg/passkey"
	"github.com/jeremyhahn/go-authgate/pkg/ratelimit"
)

var (
	// Version information (set during build)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/authgate/config.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-authgate REST server\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Git Commit: %s\n", commit)
		fmt.Printf("  Built:      %s\n", date)
		os.Exit(0)
	}

	// Check for config file override via environment
	if envConfig := os.Getenv("AUTHGATE_CONFIG"); envConfig != "" {
		*configPath = envConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger.Slog())

	logger.Info("Starting go-authgate",
		"config", *configPath,
		"version", version,
		"rp_id", cfg.WebAuthn.RPID)

	server, cleanup, err := buildServer(cfg, logger)
	if err != nil {
		logger.FatalError(err)
	}
	defer cleanup()

	shutdownCtx := setupSignalHandler(logger)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	logger.Info("Server started", "addr", server.Addr())

	select {
	case <-shutdownCtx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		logger.Errorf("Server error: %v", err)
	}

	shutdownTimeout, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(shutdownTimeout); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}

// buildServer wires the stores, services and transport from the loaded
// configuration. The returned cleanup stops background workers.
func buildServer(cfg *config.Config, logger *logging.Logger) (*rest.Server, func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	challenges := challenge.NewMemoryStore(challenge.WithTTL(cfg.Challenge.TTL))
	challenges.StartJanitor(ctx, cfg.Challenge.JanitorInterval)

	passkeys, err := passkey.NewService(passkey.ServiceParams{
		Config:          &cfg.WebAuthn,
		CredentialStore: passkey.NewMemoryCredentialStore(),
		ChallengeStore:  challenges,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create passkey service: %w", err)
	}

	var passwords mfa.PasswordVerifier
	if cfg.Mfa.PasswordFile != "" {
		verifier, err := password.NewFileVerifier(cfg.Mfa.PasswordFile)
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to load credential file: %w", err)
		}
		logger.Info("Loaded credential file",
			"path", cfg.Mfa.PasswordFile,
			"entries", verifier.Len())
		passwords = verifier
	} else {
		logger.Warn("No credential file configured, MFA state changes are disabled")
		passwords = password.DenyAllVerifier{}
	}

	manager, err := mfa.NewManager(mfa.ManagerParams{
		SecretStore:      mfa.NewMemorySecretStore(),
		BackupCodeStore:  mfa.NewMemoryBackupCodeStore(),
		PasswordVerifier: passwords,
		Issuer:           cfg.Mfa.Issuer,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create mfa manager: %w", err)
	}

	gate, err := mfa.NewGate(mfa.GateParams{
		Manager:        manager,
		FailureCounter: mfa.NewMemoryFailureCounter(mfa.WithWindow(cfg.Mfa.LockoutWindow)),
		MaxFailures:    cfg.Mfa.MaxFailures,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create verification gate: %w", err)
	}

	facadeParams := auth.FacadeParams{
		PasskeyService: passkeys,
		Gate:           gate,
	}
	if cfg.JWT.Enabled {
		tokens, err := auth.NewJWTGenerator(&auth.JWTGeneratorConfig{
			Key:       []byte(cfg.JWT.Secret),
			Issuer:    cfg.JWT.Issuer,
			Audience:  cfg.JWT.Audience,
			ExpiresIn: cfg.JWT.ExpiresIn,
		})
		if err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to create token generator: %w", err)
		}
		facadeParams.TokenGenerator = tokens
	}

	facade, err := auth.NewFacade(facadeParams)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create facade: %w", err)
	}

	tlsConfig, err := cfg.TLS.LoadTLSConfig()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to load TLS configuration: %w", err)
	}

	limiter := ratelimit.New(&cfg.RateLimit)

	var collector *metrics.ResourceCollector
	if cfg.Metrics.Enabled {
		collector = metrics.StartResourceCollector(ctx, 15*time.Second)
	} else {
		metrics.Disable()
	}

	server, err := rest.NewServer(&rest.Config{
		Addr:           cfg.ListenAddr(),
		PasskeyService: passkeys,
		MfaManager:     manager,
		Facade:         facade,
		RateLimiter:    limiter,
		TLSConfig:      tlsConfig,
		Metrics: rest.MetricsConfig{
			Enabled: cfg.Metrics.Enabled,
			Path:    cfg.Metrics.Path,
		},
		Logger:       logger.Slog(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	})
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	cleanup := func() {
		cancel()
		if collector != nil {
			collector.Stop()
		}
		limiter.Stop()
	}
	return server, cleanup, nil
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler(logger *logging.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
