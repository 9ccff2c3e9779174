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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-authgate/pkg/passkey"
	"github.com/jeremyhahn/go-authgate/pkg/ratelimit"
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Logging   LoggingConfig    `yaml:"logging"`
	TLS       TLSConfig        `yaml:"tls"`
	WebAuthn  passkey.Config   `yaml:"webauthn"`
	Challenge ChallengeConfig  `yaml:"challenge"`
	Mfa       MfaConfig        `yaml:"mfa"`
	JWT       JWTConfig        `yaml:"jwt"`
	RateLimit ratelimit.Config `yaml:"ratelimit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChallengeConfig controls the single-use challenge store
type ChallengeConfig struct {
	// TTL is the challenge lifetime (default: 60s)
	TTL time.Duration `yaml:"ttl"`

	// JanitorInterval controls how often expired and consumed
	// challenges are swept (default: 1m)
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// MfaConfig controls TOTP, backup codes and the lockout policy
type MfaConfig struct {
	// Issuer is the otpauth URI issuer shown in authenticator apps
	Issuer string `yaml:"issuer"`

	// MaxFailures is the lockout threshold (default: 5)
	MaxFailures int `yaml:"max_failures"`

	// LockoutWindow is the rolling failure window (default: 15m)
	LockoutWindow time.Duration `yaml:"lockout_window"`

	// PasswordFile is the path to the credential file used to verify
	// account passwords on MFA state changes. Entries are one per
	// line in user:bcrypt-hash form. When unset, all password
	// verification fails and MFA state cannot be changed.
	PasswordFile string `yaml:"password_file"`
}

// JWTConfig controls post-auth token stamping
type JWTConfig struct {
	// Enabled controls whether verdicts carry a JWT
	Enabled bool `yaml:"enabled"`

	// Secret is the HMAC signing key
	Secret string `yaml:"secret"`

	// Issuer is the JWT issuer claim
	Issuer string `yaml:"issuer"`

	// Audience is the JWT audience claim
	Audience []string `yaml:"audience"`

	// ExpiresIn is the token validity window
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("AUTHGATE_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if portStr := os.Getenv("AUTHGATE_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Printf("Warning: invalid AUTHGATE_PORT value %q, using default %d: %v",
				portStr, cfg.Server.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid AUTHGATE_PORT value %q (out of range 1-65535), using default %d",
				portStr, cfg.Server.Port)
		} else {
			cfg.Server.Port = port
		}
	}

	// Logging
	if level := os.Getenv("AUTHGATE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("AUTHGATE_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Relying party
	if rpID := os.Getenv("AUTHGATE_RP_ID"); rpID != "" {
		cfg.WebAuthn.RPID = rpID
	}
	if origins := os.Getenv("AUTHGATE_RP_ORIGINS"); origins != "" {
		parts := strings.Split(origins, ",")
		cfg.WebAuthn.RPOrigins = cfg.WebAuthn.RPOrigins[:0]
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				cfg.WebAuthn.RPOrigins = append(cfg.WebAuthn.RPOrigins, trimmed)
			}
		}
	}

	// Secrets come from the environment in container deployments
	if secret := os.Getenv("AUTHGATE_JWT_SECRET"); secret != "" {
		cfg.JWT.Secret = secret
	}

	// TLS
	if certFile := os.Getenv("AUTHGATE_TLS_CERT"); certFile != "" {
		cfg.TLS.CertFile = certFile
	}
	if keyFile := os.Getenv("AUTHGATE_TLS_KEY"); keyFile != "" {
		cfg.TLS.KeyFile = keyFile
	}
}

// SetDefaults fills in defaults for unset fields
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8443
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Challenge.TTL == 0 {
		c.Challenge.TTL = 60 * time.Second
	}
	if c.Challenge.JanitorInterval == 0 {
		c.Challenge.JanitorInterval = time.Minute
	}
	if c.Mfa.Issuer == "" {
		c.Mfa.Issuer = "go-authgate"
	}
	if c.Mfa.MaxFailures == 0 {
		c.Mfa.MaxFailures = 5
	}
	if c.Mfa.LockoutWindow == 0 {
		c.Mfa.LockoutWindow = 15 * time.Minute
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "go-authgate"
	}
	if len(c.JWT.Audience) == 0 {
		c.JWT.Audience = []string{"go-authgate"}
	}
	if c.JWT.ExpiresIn == 0 {
		c.JWT.ExpiresIn = time.Hour
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.WebAuthn.RPDisplayName == "" {
		c.WebAuthn.RPDisplayName = c.WebAuthn.RPID
	}
	c.WebAuthn.SetDefaults()
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}

	if err := c.WebAuthn.Validate(); err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	if c.Challenge.TTL < time.Second {
		return fmt.Errorf("challenge TTL too short: %s", c.Challenge.TTL)
	}

	if c.Mfa.MaxFailures < 1 {
		return fmt.Errorf("mfa max_failures must be positive: %d", c.Mfa.MaxFailures)
	}
	if c.Mfa.LockoutWindow < time.Second {
		return fmt.Errorf("mfa lockout_window too short: %s", c.Mfa.LockoutWindow)
	}

	if c.JWT.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required when jwt is enabled")
	}

	return nil
}

// ListenAddr returns the host:port address for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
