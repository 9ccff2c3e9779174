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
	"time"
)

// SecretStore persists per-user TOTP secrets. One secret per user.
type SecretStore interface {
	// GetSecret retrieves the user's secret. Returns ErrMfaNotEnabled
	// when no secret exists.
	GetSecret(ctx context.Context, userID string) (*Secret, error)

	// SaveSecret stores or replaces the user's secret.
	SaveSecret(ctx context.Context, secret *Secret) error

	// DeleteSecret removes the user's secret.
	DeleteSecret(ctx context.Context, userID string) error
}

// BackupCodeStore persists hashed one-time backup codes.
type BackupCodeStore interface {
	// ReplaceBatch atomically replaces the user's backup codes with a
	// new batch.
	ReplaceBatch(ctx context.Context, userID string, codes []*BackupCode) error

	// GetUnused retrieves the user's unused backup codes.
	GetUnused(ctx context.Context, userID string) ([]*BackupCode, error)

	// MarkUsed consumes a backup code. Exactly one concurrent caller
	// wins; losers get ErrInvalidCode.
	MarkUsed(ctx context.Context, codeID string, usedAt time.Time) error

	// Status reports the current batch inventory.
	Status(ctx context.Context, userID string) (*BackupCodeStatus, error)

	// DeleteByUserID removes all of the user's backup codes.
	DeleteByUserID(ctx context.Context, userID string) error
}

// PasswordVerifier proves possession of the account password. The user
// model and password storage live with the caller; this is the capability
// the MFA manager needs from them.
type PasswordVerifier interface {
	// VerifyPassword returns ErrInvalidPassword when the password does
	// not match the account's.
	VerifyPassword(ctx context.Context, userID, password string) error
}

// FailureCounter tracks verification failures inside a rolling window.
// The in-process implementation suffices for a single instance; clustered
// deployments back this with a shared store.
type FailureCounter interface {
	// RecordFailure registers a failed attempt and returns the number of
	// failures currently inside the window.
	RecordFailure(ctx context.Context, userID string) (int, error)

	// Failures returns the number of failures currently inside the window.
	Failures(ctx context.Context, userID string) (int, error)

	// Reset clears the user's failure history.
	Reset(ctx context.Context, userID string) error
}
