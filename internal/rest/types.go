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

import "time"

// HeaderUserID carries the caller's user identity.
const HeaderUserID = "X-User-Id"

// HeaderChallengeID carries the ceremony challenge identifier between
// the options and finish requests.
const HeaderChallengeID = "X-Challenge-Id"

// VerdictResponse is the uniform authentication outcome.
type VerdictResponse struct {
	// Status is "success", "rejected", or "locked".
	Status string `json:"status"`

	// UserID is the authenticated account, set on success.
	UserID string `json:"user_id,omitempty"`

	// Token is a post-auth JWT when token stamping is configured.
	Token string `json:"token,omitempty"`
}

// CredentialResponse describes a registered passkey.
type CredentialResponse struct {
	// ID is the base64url-encoded credential ID.
	ID string `json:"id"`

	// FriendlyName is the user-assigned label.
	FriendlyName string `json:"friendly_name,omitempty"`

	// Transport lists the authenticator transports observed at registration.
	Transport []string `json:"transport,omitempty"`

	// BackupEligible reports whether the credential can be synced.
	BackupEligible bool `json:"backup_eligible"`

	// CreatedAt is the registration time.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is the last successful authentication time.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialListResponse wraps the credential listing.
type CredentialListResponse struct {
	Credentials []CredentialResponse `json:"credentials"`
}

// RegisterFinishResponse is returned after a successful registration.
type RegisterFinishResponse struct {
	// CredentialID is the base64url-encoded credential ID.
	CredentialID string `json:"credential_id"`

	// FriendlyName is the stored label.
	FriendlyName string `json:"friendly_name,omitempty"`
}

// MfaSetupResponse is returned by setup initiation.
type MfaSetupResponse struct {
	// Secret is the base32-encoded TOTP secret for manual entry.
	Secret string `json:"secret"`

	// URI is the otpauth:// provisioning URI for QR rendering.
	URI string `json:"uri"`
}

// MfaConfirmRequest confirms TOTP setup.
type MfaConfirmRequest struct {
	// Code is the current TOTP code from the authenticator app.
	Code string `json:"code"`

	// Password is the account password proof.
	Password string `json:"password"`
}

// MfaDisableRequest disables MFA.
type MfaDisableRequest struct {
	// Password is the account password proof.
	Password string `json:"password"`
}

// MfaVerifyRequest verifies a second-factor code.
type MfaVerifyRequest struct {
	// Code is a TOTP code or backup code.
	Code string `json:"code"`
}

// BackupCodesResponse returns freshly generated backup codes. The
// plaintext codes appear here exactly once.
type BackupCodesResponse struct {
	Codes []string `json:"codes"`
}

// BackupCodeStatusResponse reports remaining backup code counts.
type BackupCodeStatusResponse struct {
	BatchID   string `json:"batch_id,omitempty"`
	Total     int    `json:"total"`
	Remaining int    `json:"remaining"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the stable error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeMissingIdentity    = "missing_identity"
	ErrorCodeNoCredentials      = "no_credentials"
	ErrorCodeCredentialNotFound = "credential_not_found"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeLocked             = "locked"
	ErrorCodeMfaAlreadyEnabled  = "mfa_already_enabled"
	ErrorCodeMfaNotEnabled      = "mfa_not_enabled"
	ErrorCodeInvalidPassword    = "invalid_password"
	ErrorCodeInvalidCode        = "invalid_code"
	ErrorCodeUnavailable        = "service_unavailable"
	ErrorCodeInternalError      = "internal_error"
)
