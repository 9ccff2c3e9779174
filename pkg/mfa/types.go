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

// Package mfa implements TOTP-based multi-factor authentication: secret
// provisioning and confirmation, one-time backup codes, and the
// verification gate with per-user lockout.
package mfa

import "time"

// SecretState tracks the TOTP secret lifecycle. A pending secret has been
// provisioned but never proven; only a confirmed secret enables MFA.
type SecretState string

const (
	// SecretStatePending marks a provisioned but unconfirmed secret.
	SecretStatePending SecretState = "pending"

	// SecretStateConfirmed marks a secret proven by a valid code.
	SecretStateConfirmed SecretState = "confirmed"
)

// Secret is a per-user TOTP secret.
type Secret struct {
	// UserID is the account the secret belongs to.
	UserID string `json:"user_id"`

	// Secret is the base32-encoded shared secret.
	Secret string `json:"secret"`

	// State is the secret lifecycle state.
	State SecretState `json:"state"`

	// CreatedAt is when the secret was provisioned.
	CreatedAt time.Time `json:"created_at"`

	// ConfirmedAt is when the secret was confirmed, zero while pending.
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// Confirmed reports whether the secret enables MFA.
func (s *Secret) Confirmed() bool {
	return s.State == SecretStateConfirmed
}

// BackupCode is a stored one-time recovery code. Only the bcrypt hash is
// kept; the plaintext exists exactly once, in the generation response.
type BackupCode struct {
	// ID uniquely identifies the code entry.
	ID string `json:"id"`

	// UserID is the account the code belongs to.
	UserID string `json:"user_id"`

	// BatchID groups codes generated together. Regeneration replaces the
	// whole batch.
	BatchID string `json:"batch_id"`

	// CodeHash is the bcrypt hash of the plaintext code.
	CodeHash []byte `json:"code_hash"`

	// CreatedAt is when the batch was generated.
	CreatedAt time.Time `json:"created_at"`

	// UsedAt is when the code was consumed, nil while unused.
	UsedAt *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the code has been consumed.
func (c *BackupCode) Used() bool {
	return c.UsedAt != nil
}

// SetupInfo is returned when MFA setup is initiated. The secret and URI
// are shown to the user once for enrollment in an authenticator app.
type SetupInfo struct {
	// Secret is the base32-encoded shared secret.
	Secret string `json:"secret"`

	// URI is the otpauth:// provisioning URI.
	URI string `json:"uri"`
}

// BackupCodeStatus reports backup code inventory without revealing codes.
type BackupCodeStatus struct {
	// BatchID identifies the current batch, empty when none exists.
	BatchID string `json:"batch_id,omitempty"`

	// Total is the number of codes in the current batch.
	Total int `json:"total"`

	// Remaining is the number of unused codes in the current batch.
	Remaining int `json:"remaining"`
}
