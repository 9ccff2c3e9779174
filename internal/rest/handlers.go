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

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"

	"github.com/jeremyhahn/go-authgate/pkg/passkey"
)

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// RegisterOptionsHandler handles GET /api/v1/webauthn/register/options
//
// Query param: display_name (optional)
// Response: WebAuthn PublicKeyCredentialCreationOptions
// Header: X-Challenge-Id (challenge identifier for the finish request)
func (s *Server) RegisterOptionsHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())
	displayName := r.URL.Query().Get("display_name")

	options, challengeID, err := s.passkeys.BeginRegistration(r.Context(), user, displayName)
	if err != nil {
		s.handleCeremonyError(w, err)
		return
	}

	w.Header().Set(HeaderChallengeID, challengeID)
	s.writeJSON(w, http.StatusOK, options)
}

// RegisterFinishHandler handles POST /api/v1/webauthn/register
//
// Header: X-Challenge-Id (from register/options)
// Query param: friendly_name (optional)
// Request body: Attestation response from authenticator
func (s *Server) RegisterFinishHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	challengeID := r.Header.Get(HeaderChallengeID)
	if challengeID == "" {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "challenge ID header is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	friendlyName := r.URL.Query().Get("friendly_name")

	cred, err := s.passkeys.FinishRegistration(r.Context(), user, challengeID, response, friendlyName)
	if err != nil {
		s.handleCeremonyError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, RegisterFinishResponse{
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		FriendlyName: cred.FriendlyName,
	})
}

// AuthenticateOptionsHandler handles GET /api/v1/webauthn/authenticate/options
//
// Response: WebAuthn PublicKeyCredentialRequestOptions
// Header: X-Challenge-Id (challenge identifier for the finish request)
func (s *Server) AuthenticateOptionsHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	options, challengeID, err := s.passkeys.BeginAuthentication(r.Context(), user)
	if err != nil {
		s.handleCeremonyError(w, err)
		return
	}

	w.Header().Set(HeaderChallengeID, challengeID)
	s.writeJSON(w, http.StatusOK, options)
}

// AuthenticateFinishHandler handles POST /api/v1/webauthn/authenticate
//
// Header: X-Challenge-Id (from authenticate/options)
// Request body: Assertion response from authenticator
// Response: VerdictResponse
func (s *Server) AuthenticateFinishHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	challengeID := r.Header.Get(HeaderChallengeID)
	if challengeID == "" {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "challenge ID header is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	verdict, err := s.facade.AuthenticateWithPasskey(r.Context(), user, challengeID, response)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "service unavailable")
		return
	}

	s.writeVerdict(w, verdict)
}

// ListCredentialsHandler handles GET /api/v1/webauthn/credentials
func (s *Server) ListCredentialsHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	creds, err := s.passkeys.ListCredentials(r.Context(), user)
	if err != nil {
		s.handleCeremonyError(w, err)
		return
	}

	resp := CredentialListResponse{Credentials: make([]CredentialResponse, 0, len(creds))}
	for _, c := range creds {
		resp.Credentials = append(resp.Credentials, toCredentialResponse(c))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// DeleteCredentialHandler handles DELETE /api/v1/webauthn/credentials/{credentialID}
//
// The path parameter is the base64url-encoded credential ID.
func (s *Server) DeleteCredentialHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	credID, err := base64.RawURLEncoding.DecodeString(chi.URLParam(r, "credentialID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid credential ID encoding")
		return
	}

	if err := s.passkeys.RemoveCredential(r.Context(), user, credID); err != nil {
		if errors.Is(err, passkey.ErrCredentialNotFound) {
			s.writeError(w, http.StatusNotFound, ErrorCodeCredentialNotFound, "credential not found")
			return
		}
		s.handleCeremonyError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MfaSetupHandler handles POST /api/v1/mfa
//
// Response: TOTP secret and provisioning URI. The secret stays pending
// until confirmed.
func (s *Server) MfaSetupHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	info, err := s.manager.InitiateSetup(r.Context(), user, user)
	if err != nil {
		s.handleMfaError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, MfaSetupResponse{
		Secret: info.Secret,
		URI:    info.URI,
	})
}

// MfaConfirmHandler handles PUT /api/v1/mfa
//
// Request body: {"code": "123456", "password": "..."}
func (s *Server) MfaConfirmHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	var req MfaConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "code and password are required")
		return
	}

	if err := s.manager.ConfirmSetup(r.Context(), user, req.Code, req.Password); err != nil {
		s.handleMfaError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MfaDisableHandler handles DELETE /api/v1/mfa
//
// Request body: {"password": "..."}
func (s *Server) MfaDisableHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	var req MfaDisableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "password is required")
		return
	}

	if err := s.manager.Disable(r.Context(), user, req.Password); err != nil {
		s.handleMfaError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MfaVerifyHandler handles POST /api/v1/mfa/verify
//
// Request body: {"code": "123456"}
// Response: VerdictResponse
func (s *Server) MfaVerifyHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	var req MfaVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Code == "" {
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "code is required")
		return
	}

	verdict, err := s.facade.AuthenticateWithMfa(r.Context(), user, req.Code)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "service unavailable")
		return
	}

	s.writeVerdict(w, verdict)
}

// RegenerateBackupCodesHandler handles POST /api/v1/mfa/backup-codes/regenerate
//
// Response: the plaintext codes, returned exactly once.
func (s *Server) RegenerateBackupCodesHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	codes, err := s.manager.RegenerateBackupCodes(r.Context(), user)
	if err != nil {
		s.handleMfaError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, BackupCodesResponse{Codes: codes})
}

// BackupCodeStatusHandler handles GET /api/v1/mfa/backup-codes/status
func (s *Server) BackupCodeStatusHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r.Context())

	status, err := s.manager.BackupCodeStatus(r.Context(), user)
	if err != nil {
		s.handleMfaError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, BackupCodeStatusResponse{
		BatchID:   status.BatchID,
		Total:     status.Total,
		Remaining: status.Remaining,
	})
}

// toCredentialResponse converts a stored credential to its API shape.
func toCredentialResponse(c *passkey.Credential) CredentialResponse {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}

	return CredentialResponse{
		ID:             base64.RawURLEncoding.EncodeToString(c.ID),
		FriendlyName:   c.FriendlyName,
		Transport:      transports,
		BackupEligible: c.Flags.BackupEligible,
		CreatedAt:      c.CreatedAt,
		LastUsedAt:     c.LastUsedAt,
	}
}
