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

// Package auth provides the authentication façade: a uniform verdict over
// the passkey ceremony engine and the MFA verification gate, with optional
// post-auth token stamping.
package auth

// Status is the outcome of an authentication attempt.
type Status string

const (
	// StatusSuccess indicates the attempt was verified.
	StatusSuccess Status = "success"

	// StatusRejected indicates the attempt failed. The reason is logged
	// internally and deliberately not exposed to the caller.
	StatusRejected Status = "rejected"

	// StatusLocked indicates the account is locked out of verification.
	StatusLocked Status = "locked"
)

// Verdict is the uniform result of an authentication attempt. Rejection
// carries no detail about which check failed; distinguishing a bad
// signature from an expired challenge would hand probes an oracle.
type Verdict struct {
	// Status is the attempt outcome.
	Status Status `json:"status"`

	// UserID is the authenticated account, set on success.
	UserID string `json:"user_id,omitempty"`

	// Token is a post-auth token when a TokenGenerator is configured.
	// Session issuance itself is the caller's concern.
	Token string `json:"token,omitempty"`
}

// Success reports whether the attempt was verified.
func (v *Verdict) Success() bool {
	return v.Status == StatusSuccess
}
