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

// Package passkey implements the WebAuthn credential registry and the
// registration/authentication ceremony engine on top of the single-use
// challenge store.
package passkey

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Credential is a registered passkey credential held by the relying party.
type Credential struct {
	// ID is the credential identifier assigned by the authenticator.
	// Unique across all users.
	ID []byte `json:"id"`

	// UserID is the account the credential belongs to.
	UserID string `json:"user_id"`

	// PublicKey is the credential's public key in COSE format.
	PublicKey []byte `json:"public_key"`

	// AttestationType indicates the type of attestation used.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports supported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// FriendlyName is a user-supplied label shown in credential lists.
	FriendlyName string `json:"friendly_name,omitempty"`

	// Flags contains authenticator flags captured at registration.
	Flags CredentialFlags `json:"flags"`

	// Authenticator contains authenticator-specific data.
	Authenticator AuthenticatorInfo `json:"authenticator"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// CredentialFlags contains authenticator capability flags.
type CredentialFlags struct {
	// UserPresent indicates the user was present during the operation.
	UserPresent bool `json:"user_present"`

	// UserVerified indicates the user was verified (e.g., biometric, PIN).
	UserVerified bool `json:"user_verified"`

	// BackupEligible indicates the credential can be backed up.
	BackupEligible bool `json:"backup_eligible"`

	// BackupState indicates the credential is currently backed up.
	BackupState bool `json:"backup_state"`
}

// AuthenticatorInfo contains authenticator-specific information.
type AuthenticatorInfo struct {
	// AAGUID is the authenticator's unique identifier.
	AAGUID []byte `json:"aaguid"`

	// SignCount is the signature counter used for clone detection.
	SignCount uint32 `json:"sign_count"`

	// Attachment indicates how the authenticator is attached.
	Attachment protocol.AuthenticatorAttachment `json:"attachment"`
}

// ToWebAuthn converts a Credential to the go-webauthn library's type.
func (c *Credential) ToWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.Flags.UserPresent,
			UserVerified:   c.Flags.UserVerified,
			BackupEligible: c.Flags.BackupEligible,
			BackupState:    c.Flags.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:     c.Authenticator.AAGUID,
			SignCount:  c.Authenticator.SignCount,
			Attachment: c.Authenticator.Attachment,
		},
	}
}

// newCredential creates a Credential from a verified library credential.
func newCredential(userID string, wc *webauthn.Credential, friendlyName string) *Credential {
	return &Credential{
		ID:              wc.ID,
		UserID:          userID,
		PublicKey:       wc.PublicKey,
		AttestationType: wc.AttestationType,
		Transport:       wc.Transport,
		FriendlyName:    friendlyName,
		Flags: CredentialFlags{
			UserPresent:    wc.Flags.UserPresent,
			UserVerified:   wc.Flags.UserVerified,
			BackupEligible: wc.Flags.BackupEligible,
			BackupState:    wc.Flags.BackupState,
		},
		Authenticator: AuthenticatorInfo{
			AAGUID:     wc.Authenticator.AAGUID,
			SignCount:  wc.Authenticator.SignCount,
			Attachment: wc.Authenticator.Attachment,
		},
		CreatedAt: time.Now().UTC(),
	}
}

// ceremonyUser adapts an account ID and its stored credentials to the
// webauthn.User interface for the duration of one ceremony. The real user
// model lives with the caller; only the user handle and credential set are
// needed here.
type ceremonyUser struct {
	id          string
	displayName string
	credentials []*Credential
}

func newCeremonyUser(userID, displayName string, creds []*Credential) *ceremonyUser {
	return &ceremonyUser{
		id:          userID,
		displayName: displayName,
		credentials: creds,
	}
}

// WebAuthnID returns the user handle.
func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.id)
}

// WebAuthnName returns the account name.
func (u *ceremonyUser) WebAuthnName() string {
	return u.id
}

// WebAuthnDisplayName returns the human-readable name.
func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName == "" {
		return u.id
	}
	return u.displayName
}

// WebAuthnCredentials returns the user's registered credentials.
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.credentials))
	for i, c := range u.credentials {
		creds[i] = c.ToWebAuthn()
	}
	return creds
}
