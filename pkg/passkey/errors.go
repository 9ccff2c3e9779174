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
	"errors"
	"fmt"
)

// Sentinel errors for passkey operations.
var (
	// ErrCredentialNotFound is returned when a credential cannot be found.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrDuplicateCredential is returned when a credential ID is already
	// registered, regardless of owner.
	ErrDuplicateCredential = errors.New("credential already registered")

	// ErrNoCredentials is returned when a user has no registered credentials.
	ErrNoCredentials = errors.New("user has no registered credentials")

	// ErrCounterRegression is returned when an assertion's sign count does
	// not strictly exceed the stored one. A regression suggests a cloned
	// authenticator; the attempt is rejected and the stored counter kept.
	ErrCounterRegression = errors.New("sign counter regression")

	// ErrMalformedResponse is returned when an authenticator response is
	// structurally invalid.
	ErrMalformedResponse = errors.New("malformed authenticator response")

	// ErrVerificationFailed is returned when signature, origin, type or
	// RP ID verification fails.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrNotConfigured is returned when the service is not properly configured.
	ErrNotConfigured = errors.New("passkey service not configured")

	// ErrStoreUnavailable is returned when the credential store cannot
	// serve the request.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// PasskeyError wraps an error with the operation that produced it.
type PasskeyError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *PasskeyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *PasskeyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *PasskeyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapError wraps an error with an operation name if it's not nil.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PasskeyError{Op: op, Err: err}
}

// IsCredentialNotFound returns true if the error indicates a credential was not found.
func IsCredentialNotFound(err error) bool {
	return errors.Is(err, ErrCredentialNotFound)
}

// IsDuplicateCredential returns true if the error indicates a duplicate credential ID.
func IsDuplicateCredential(err error) bool {
	return errors.Is(err, ErrDuplicateCredential)
}

// IsCounterRegression returns true if the error indicates a sign counter regression.
func IsCounterRegression(err error) bool {
	return errors.Is(err, ErrCounterRegression)
}

// IsVerificationFailed returns true if the error indicates verification failed.
func IsVerificationFailed(err error) bool {
	return errors.Is(err, ErrVerificationFailed)
}
