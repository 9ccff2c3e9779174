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

// Package challenge issues and validates the single-use, time-bounded
// random challenges that anchor WebAuthn ceremonies.
//
// A challenge is bound to one (user, purpose) pair. Issuing a new
// challenge invalidates any unconsumed predecessor for the same pair, and
// consuming a challenge is a one-way transition: the record is burned on
// the first Consume call whether or not the presented nonce matched.
package challenge

import (
	"context"
	"time"
)

// NonceSize is the number of random bytes in a challenge nonce.
const NonceSize = 32

// DefaultTTL is the default challenge lifetime. It matches the typical
// WebAuthn client-side ceremony timeout.
const DefaultTTL = 60 * time.Second

// Purpose identifies the ceremony a challenge was issued for.
type Purpose string

const (
	// PurposeRegistration marks challenges for registration ceremonies.
	PurposeRegistration Purpose = "registration"

	// PurposeAuthentication marks challenges for authentication ceremonies.
	PurposeAuthentication Purpose = "authentication"
)

// Valid reports whether the purpose is a known ceremony purpose.
func (p Purpose) Valid() bool {
	return p == PurposeRegistration || p == PurposeAuthentication
}

// Challenge is a single-use ceremony challenge.
type Challenge struct {
	// ID uniquely identifies the challenge. It is returned to the client
	// and presented back on the finish request.
	ID string `json:"id"`

	// UserID is the owner of the challenge.
	UserID string `json:"user_id"`

	// Purpose is the ceremony this challenge was issued for.
	Purpose Purpose `json:"purpose"`

	// Nonce is the CSPRNG-generated random value embedded in the
	// ceremony options sent to the client.
	Nonce []byte `json:"nonce"`

	// CreatedAt is when the challenge was issued.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the challenge stops being consumable.
	ExpiresAt time.Time `json:"expires_at"`

	// Consumed records the one-way consumption transition.
	Consumed bool `json:"consumed"`
}

// Expired reports whether the challenge is past its lifetime at t.
func (c *Challenge) Expired(t time.Time) bool {
	return t.After(c.ExpiresAt)
}

// Store issues and consumes ceremony challenges.
//
// Implementations must guarantee that Consume has exactly one winner when
// called concurrently for the same challenge, and that at most one
// unconsumed challenge exists per (user, purpose) pair.
type Store interface {
	// Issue creates a new challenge for the (user, purpose) pair,
	// invalidating any prior unconsumed challenge for that pair.
	Issue(ctx context.Context, userID string, purpose Purpose) (*Challenge, error)

	// Consume burns the challenge and compares the client-presented
	// nonce byte-for-byte against the stored one.
	//
	// The challenge is marked consumed regardless of the comparison
	// outcome so a failed attempt cannot be retried against the same
	// nonce. Returns ErrChallengeExpired, ErrChallengeAlreadyConsumed,
	// ErrChallengeMismatch or ErrChallengeNotFound on failure; on
	// success the consumed record is returned.
	Consume(ctx context.Context, challengeID string, clientNonce []byte) (*Challenge, error)

	// Cleanup removes expired and consumed challenges, returning the
	// number removed.
	Cleanup(ctx context.Context) (int, error)
}
