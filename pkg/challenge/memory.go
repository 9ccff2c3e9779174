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
	"context"
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-authgate/pkg/metrics"
)

type pairKey struct {
	userID  string
	purpose Purpose
}

// MemoryStore is an in-memory challenge store safe for concurrent use.
type MemoryStore struct {
	mu sync.Mutex

	// byID holds every live challenge keyed by challenge ID.
	byID map[string]*Challenge

	// byPair indexes the single unconsumed challenge per (user, purpose)
	// so Issue can supersede it atomically.
	byPair map[pairKey]string

	ttl time.Duration
	now func() time.Time
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithTTL overrides the default challenge lifetime.
func WithTTL(ttl time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates an in-memory challenge store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		byID:   make(map[string]*Challenge),
		byPair: make(map[pairKey]string),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a new challenge for the (user, purpose) pair. Any prior
// unconsumed challenge for the same pair is removed under the same lock,
// so at most one unconsumed challenge exists per pair at any moment.
func (s *MemoryStore) Issue(ctx context.Context, userID string, purpose Purpose) (*Challenge, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, wrapError("Issue", err)
	}
	if userID == "" {
		return nil, wrapError("Issue", ErrChallengeNotFound)
	}
	if !purpose.Valid() {
		return nil, wrapError("Issue", ErrInvalidPurpose)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, wrapError("Issue", ErrStoreUnavailable)
	}

	now := s.now()
	ch := &Challenge{
		ID:        uuid.New().String(),
		UserID:    userID,
		Purpose:   purpose,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	key := pairKey{userID: userID, purpose: purpose}

	s.mu.Lock()
	defer s.mu.Unlock()

	if priorID, ok := s.byPair[key]; ok {
		delete(s.byID, priorID)
	}
	s.byID[ch.ID] = ch
	s.byPair[key] = ch.ID
	metrics.SetChallengesActive(float64(len(s.byPair)))

	return copyChallenge(ch), nil
}

// Consume burns the challenge identified by challengeID and compares the
// presented nonce. The consumed flag is set before the comparison result
// is known, so a mismatched attempt cannot be replayed.
func (s *MemoryStore) Consume(ctx context.Context, challengeID string, clientNonce []byte) (*Challenge, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, wrapError("Consume", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.byID[challengeID]
	if !ok {
		return nil, wrapError("Consume", ErrChallengeNotFound)
	}
	if ch.Consumed {
		return nil, wrapError("Consume", ErrChallengeAlreadyConsumed)
	}
	if ch.Expired(s.now()) {
		delete(s.byID, ch.ID)
		s.dropPairIndex(ch)
		metrics.SetChallengesActive(float64(len(s.byPair)))
		return nil, wrapError("Consume", ErrChallengeExpired)
	}

	// One-way transition. Losers of a concurrent race see the consumed
	// flag; a nonce mismatch burns the challenge all the same.
	ch.Consumed = true
	s.dropPairIndex(ch)
	metrics.SetChallengesActive(float64(len(s.byPair)))

	if subtle.ConstantTimeCompare(ch.Nonce, clientNonce) != 1 {
		return nil, wrapError("Consume", ErrChallengeMismatch)
	}

	return copyChallenge(ch), nil
}

// Cleanup removes expired and consumed challenges.
func (s *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	if err := ctxErr(ctx); err != nil {
		return 0, wrapError("Cleanup", err)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, ch := range s.byID {
		if ch.Consumed || ch.Expired(now) {
			delete(s.byID, id)
			s.dropPairIndex(ch)
			removed++
		}
	}
	metrics.SetChallengesActive(float64(len(s.byPair)))
	return removed, nil
}

// Len returns the number of live challenges. Used by tests and metrics.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// StartJanitor launches a goroutine that periodically removes expired and
// consumed challenges until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = s.Cleanup(context.Background())
			}
		}
	}()
}

// dropPairIndex removes the pair index entry when it still points at ch.
// Caller must hold s.mu.
func (s *MemoryStore) dropPairIndex(ch *Challenge) {
	key := pairKey{userID: ch.UserID, purpose: ch.Purpose}
	if s.byPair[key] == ch.ID {
		delete(s.byPair, key)
	}
}

func copyChallenge(ch *Challenge) *Challenge {
	out := *ch
	out.Nonce = make([]byte, len(ch.Nonce))
	copy(out.Nonce, ch.Nonce)
	return &out
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrStoreUnavailable
	default:
		return nil
	}
}
