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

package passkey

import (
	"context"
	"time"
)

// CredentialStore persists registered passkey credentials.
//
// Credential IDs are unique across all users. Implementations must enforce
// this on Save and must apply UpdateSignCount as an atomic compare-and-swap
// on the stored sign count.
type CredentialStore interface {
	// Save stores a new credential. Returns ErrDuplicateCredential when
	// the credential ID is already registered, to any user.
	Save(ctx context.Context, cred *Credential) error

	// GetByUserID retrieves all credentials for a user. An empty slice
	// and nil error are returned when the user has none.
	GetByUserID(ctx context.Context, userID string) ([]*Credential, error)

	// GetByCredentialID retrieves a credential by its ID.
	GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error)

	// UpdateSignCount advances the stored sign count from oldCount to
	// newCount and stamps LastUsedAt, failing with ErrCounterRegression
	// when the stored count no longer equals oldCount.
	UpdateSignCount(ctx context.Context, credID []byte, oldCount, newCount uint32, usedAt time.Time) error

	// Delete removes a credential by its ID.
	Delete(ctx context.Context, credID []byte) error

	// DeleteByUserID removes all credentials for a user.
	DeleteByUserID(ctx context.Context, userID string) error
}
