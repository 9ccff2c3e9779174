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
	"errors"
	"fmt"
)

// Sentinel errors for MFA operations.
var (
	// ErrMfaAlreadyEnabled is returned when setup is initiated while a
	// confirmed secret exists.
	ErrMfaAlreadyEnabled = errors.New("mfa already enabled")

	// ErrMfaNotEnabled is returned when an operation requires MFA but no
	// applicable secret exists.
	ErrMfaNotEnabled = errors.New("mfa not enabled")

	// ErrInvalidCode is returned when neither the TOTP code nor a backup
	// code matched. Deliberately does not say which.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrInvalidPassword is returned when the password proof fails.
	ErrInvalidPassword = errors.New("invalid password")

	// ErrLocked is returned when the user is locked out by repeated
	// verification failures.
	ErrLocked = errors.New("verification locked")

	// ErrStoreUnavailable is returned when a backing store cannot serve
	// the request.
	ErrStoreUnavailable = errors.New("mfa store unavailable")
)

// MfaError wraps an error with the operation that produced it.
type MfaError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *MfaError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *MfaError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *MfaError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MfaError{Op: op, Err: err}
}

// IsInvalidCode returns true if the error indicates a failed code check.
func IsInvalidCode(err error) bool {
	return errors.Is(err, ErrInvalidCode)
}

// IsLocked returns true if the error indicates a lockout.
func IsLocked(err error) bool {
	return errors.Is(err, ErrLocked)
}
