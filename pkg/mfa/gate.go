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

package mfa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-authgate/pkg/metrics"
)

const (
	// DefaultMaxFailures is the failure threshold before lockout.
	DefaultMaxFailures = 5

	// DefaultLockoutWindow is the rolling window failures are counted in.
	DefaultLockoutWindow = 15 * time.Minute
)

// Gate verifies second-factor codes with per-user lockout. The lockout
// check runs before any factor is touched, so a locked user learns nothing
// about whether their code would have been valid.
type Gate struct {
	manager     *Manager
	failures    FailureCounter
	maxFailures int
	logger      *slog.Logger
}

// GateParams contains dependencies for creating a verification gate.
type GateParams struct {
	// Manager provides TOTP and backup code verification (required).
	Manager *Manager

	// FailureCounter tracks failed attempts (required).
	FailureCounter FailureCounter

	// MaxFailures is the lockout threshold. Defaults to DefaultMaxFailures.
	MaxFailures int

	// Logger receives lockout events. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewGate creates a verification gate.
func NewGate(params GateParams) (*Gate, error) {
	if params.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if params.FailureCounter == nil {
		return nil, fmt.Errorf("failure counter is required")
	}

	maxFailures := params.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gate{
		manager:     params.Manager,
		failures:    params.FailureCounter,
		maxFailures: maxFailures,
		logger:      logger,
	}, nil
}

// Verify checks a second-factor code: TOTP first, then backup codes.
// Returns ErrLocked when the user is over the failure threshold, checked
// before any factor. Success resets the failure count; failure records an
// attempt.
func (g *Gate) Verify(ctx context.Context, userID, code string) error {
	count, err := g.failures.Failures(ctx, userID)
	if err != nil {
		return WrapError("check lockout", err)
	}
	if count >= g.maxFailures {
		return WrapError("verify", ErrLocked)
	}

	enabled, err := g.manager.Enabled(ctx, userID)
	if err != nil {
		return WrapError("check enabled", err)
	}
	if !enabled {
		return WrapError("verify", ErrMfaNotEnabled)
	}

	if err := g.manager.VerifyTOTP(ctx, userID, code); err == nil {
		metrics.RecordMfaVerification(metrics.FactorTOTP, metrics.StatusSuccess)
		if err := g.failures.Reset(ctx, userID); err != nil {
			g.logger.Warn("failure counter reset failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return nil
	} else if !errors.Is(err, ErrInvalidCode) {
		return err
	}

	if err := g.manager.ConsumeBackupCode(ctx, userID, code); err == nil {
		metrics.RecordMfaVerification(metrics.FactorBackupCode, metrics.StatusSuccess)
		if err := g.failures.Reset(ctx, userID); err != nil {
			g.logger.Warn("failure counter reset failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		}
		return nil
	} else if !errors.Is(err, ErrInvalidCode) {
		return err
	}

	// The code matched neither factor, so the failure cannot be
	// attributed to one.
	metrics.RecordMfaVerification(metrics.FactorUnknown, metrics.StatusError)

	count, err = g.failures.RecordFailure(ctx, userID)
	if err != nil {
		return WrapError("record failure", err)
	}
	if count >= g.maxFailures {
		metrics.RecordLockout()
		g.logger.Warn("verification lockout engaged",
			slog.String("user_id", userID),
			slog.Int("failures", count))
	}

	return WrapError("verify", ErrInvalidCode)
}
