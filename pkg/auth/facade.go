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

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-authgate/pkg/challenge"
	"github.com/jeremyhahn/go-authgate/pkg/metrics"
	"github.com/jeremyhahn/go-authgate/pkg/mfa"
	"github.com/jeremyhahn/go-authgate/pkg/passkey"
)

// ErrUnavailable is returned when a backing store cannot serve the
// attempt. It is the only error the façade surfaces; everything else
// folds into the verdict.
var ErrUnavailable = errors.New("auth: service unavailable")

// Facade runs authentication attempts and returns uniform verdicts.
// Internal failure reasons go to the log, never to the caller.
type Facade struct {
	passkeys *passkey.Service
	gate     *mfa.Gate
	tokens   TokenGenerator
	logger   *slog.Logger
}

// FacadeParams contains dependencies for creating a Facade.
type FacadeParams struct {
	// PasskeyService runs WebAuthn ceremonies (required).
	PasskeyService *passkey.Service

	// Gate verifies second-factor codes (required).
	Gate *mfa.Gate

	// TokenGenerator stamps successful verdicts. Optional; without it
	// the verdict carries no token.
	TokenGenerator TokenGenerator

	// Logger receives internal rejection reasons. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewFacade creates an authentication façade.
func NewFacade(params FacadeParams) (*Facade, error) {
	if params.PasskeyService == nil {
		return nil, fmt.Errorf("passkey service is required")
	}
	if params.Gate == nil {
		return nil, fmt.Errorf("gate is required")
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Facade{
		passkeys: params.PasskeyService,
		gate:     params.Gate,
		tokens:   params.TokenGenerator,
		logger:   logger,
	}, nil
}

// PasskeyAvailable reports whether the user can authenticate with a
// passkey. False signals the caller to fall back to password plus MFA.
func (f *Facade) PasskeyAvailable(ctx context.Context, userID string) (bool, error) {
	has, err := f.passkeys.HasCredentials(ctx, userID)
	if err != nil {
		return false, ErrUnavailable
	}
	return has, nil
}

// AuthenticateWithPasskey finishes a passkey ceremony and returns the
// verdict. All ceremony failures collapse into StatusRejected.
func (f *Facade) AuthenticateWithPasskey(ctx context.Context, userID, challengeID string, assertion *protocol.ParsedCredentialAssertionData) (*Verdict, error) {
	_, err := f.passkeys.FinishAuthentication(ctx, userID, challengeID, assertion)
	if err != nil {
		if isUnavailable(err) {
			return nil, ErrUnavailable
		}
		reason := rejectionReason(err)
		metrics.RecordRejection(reason)
		f.logger.Info("passkey authentication rejected",
			slog.String("user_id", userID),
			slog.String("reason", reason))
		return &Verdict{Status: StatusRejected}, nil
	}

	return f.success(ctx, userID)
}

// AuthenticateWithMfa verifies a second-factor code and returns the
// verdict. Lockout surfaces as StatusLocked; every other failure is
// StatusRejected.
func (f *Facade) AuthenticateWithMfa(ctx context.Context, userID, code string) (*Verdict, error) {
	err := f.gate.Verify(ctx, userID, code)
	if err != nil {
		if isUnavailable(err) {
			return nil, ErrUnavailable
		}
		if errors.Is(err, mfa.ErrLocked) {
			metrics.RecordRejection("locked")
			f.logger.Info("mfa authentication locked",
				slog.String("user_id", userID))
			return &Verdict{Status: StatusLocked}, nil
		}
		reason := rejectionReason(err)
		metrics.RecordRejection(reason)
		f.logger.Info("mfa authentication rejected",
			slog.String("user_id", userID),
			slog.String("reason", reason))
		return &Verdict{Status: StatusRejected}, nil
	}

	return f.success(ctx, userID)
}

// success builds the verified verdict, stamping a token when configured.
func (f *Facade) success(ctx context.Context, userID string) (*Verdict, error) {
	verdict := &Verdict{
		Status: StatusSuccess,
		UserID: userID,
	}

	if f.tokens != nil {
		token, err := f.tokens.GenerateToken(ctx, userID)
		if err != nil {
			f.logger.Error("token generation failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			return nil, ErrUnavailable
		}
		verdict.Token = token
	}

	return verdict, nil
}

// isUnavailable reports whether the error is infrastructure, not a
// verification outcome.
func isUnavailable(err error) bool {
	return errors.Is(err, challenge.ErrStoreUnavailable) ||
		errors.Is(err, passkey.ErrStoreUnavailable) ||
		errors.Is(err, mfa.ErrStoreUnavailable)
}

// rejectionReason names the failure for the internal log. The mapping is
// deliberately the only place rejection causes are distinguished.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, challenge.ErrChallengeExpired):
		return "challenge_expired"
	case errors.Is(err, challenge.ErrChallengeAlreadyConsumed):
		return "challenge_already_consumed"
	case errors.Is(err, challenge.ErrChallengeMismatch):
		return "challenge_mismatch"
	case errors.Is(err, challenge.ErrChallengeNotFound):
		return "challenge_not_found"
	case errors.Is(err, passkey.ErrCounterRegression):
		return "counter_regression"
	case errors.Is(err, passkey.ErrCredentialNotFound):
		return "credential_not_found"
	case errors.Is(err, passkey.ErrMalformedResponse):
		return "malformed_response"
	case errors.Is(err, passkey.ErrVerificationFailed):
		return "verification_failed"
	case errors.Is(err, mfa.ErrMfaNotEnabled):
		return "mfa_not_enabled"
	case errors.Is(err, mfa.ErrInvalidCode):
		return "invalid_code"
	default:
		return "unknown"
	}
}
