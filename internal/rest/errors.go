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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jeremyhahn/go-authgate/pkg/auth"
	"github.com/jeremyhahn/go-authgate/pkg/challenge"
	"github.com/jeremyhahn/go-authgate/pkg/mfa"
	"github.com/jeremyhahn/go-authgate/pkg/passkey"
)

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		s.logger.Error("failed to encode JSON response",
			slog.String("error", err.Error()),
			slog.Int("status", status))
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// handleCeremonyError maps ceremony errors to HTTP responses. Every
// verification failure collapses into the uniform verification_failed
// body; only malformed input and infrastructure failures are
// distinguished.
func (s *Server) handleCeremonyError(w http.ResponseWriter, err error) {
	switch {
	case isUnavailable(err):
		s.writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "service unavailable")
	case errors.Is(err, passkey.ErrMalformedResponse):
		s.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "malformed authenticator response")
	case errors.Is(err, passkey.ErrNoCredentials):
		s.writeError(w, http.StatusBadRequest, ErrorCodeNoCredentials, "user has no registered credentials")
	case errors.Is(err, passkey.ErrDuplicateCredential):
		s.writeError(w, http.StatusConflict, ErrorCodeInvalidRequest, "credential already registered")
	default:
		s.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "verification failed")
	}
}

// handleMfaError maps MFA management errors to HTTP responses. Unlike
// the verification endpoints, setup and teardown may name the failure.
func (s *Server) handleMfaError(w http.ResponseWriter, err error) {
	switch {
	case isUnavailable(err):
		s.writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "service unavailable")
	case errors.Is(err, mfa.ErrMfaAlreadyEnabled):
		s.writeError(w, http.StatusConflict, ErrorCodeMfaAlreadyEnabled, "MFA is already enabled")
	case errors.Is(err, mfa.ErrMfaNotEnabled):
		s.writeError(w, http.StatusBadRequest, ErrorCodeMfaNotEnabled, "MFA is not enabled")
	case errors.Is(err, mfa.ErrInvalidPassword):
		s.writeError(w, http.StatusUnauthorized, ErrorCodeInvalidPassword, "invalid password")
	case errors.Is(err, mfa.ErrInvalidCode):
		s.writeError(w, http.StatusUnauthorized, ErrorCodeInvalidCode, "invalid code")
	case errors.Is(err, mfa.ErrLocked):
		s.writeError(w, http.StatusLocked, ErrorCodeLocked, "account is locked")
	default:
		s.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeVerdict maps a façade verdict to the HTTP response.
func (s *Server) writeVerdict(w http.ResponseWriter, verdict *auth.Verdict) {
	resp := VerdictResponse{
		Status: string(verdict.Status),
		UserID: verdict.UserID,
		Token:  verdict.Token,
	}

	switch verdict.Status {
	case auth.StatusSuccess:
		s.writeJSON(w, http.StatusOK, resp)
	case auth.StatusLocked:
		s.writeJSON(w, http.StatusLocked, resp)
	default:
		s.writeJSON(w, http.StatusUnauthorized, resp)
	}
}

// isUnavailable reports whether the error is infrastructure, not a
// verification outcome.
func isUnavailable(err error) bool {
	return errors.Is(err, auth.ErrUnavailable) ||
		errors.Is(err, challenge.ErrStoreUnavailable) ||
		errors.Is(err, passkey.ErrStoreUnavailable) ||
		errors.Is(err, mfa.ErrStoreUnavailable)
}
