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

package challenge

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeNotFound indicates no challenge exists for the given ID.
	ErrChallengeNotFound = errors.New("challenge: not found")

	// ErrChallengeExpired indicates the challenge is past its TTL.
	ErrChallengeExpired = errors.New("challenge: expired")

	// ErrChallengeAlreadyConsumed indicates the challenge was already burned.
	ErrChallengeAlreadyConsumed = errors.New("challenge: already consumed")

	// ErrChallengeMismatch indicates the presented nonce did not match.
	// The challenge is burned anyway.
	ErrChallengeMismatch = errors.New("challenge: nonce mismatch")

	// ErrInvalidPurpose indicates an unknown ceremony purpose.
	ErrInvalidPurpose = errors.New("challenge: invalid purpose")

	// ErrStoreUnavailable indicates the backing store could not serve the
	// request, typically because the context deadline passed.
	ErrStoreUnavailable = errors.New("challenge: store unavailable")
)

// Error wraps a sentinel with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("challenge.%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is matching against the wrapped sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
