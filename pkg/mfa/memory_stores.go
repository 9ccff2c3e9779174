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
	"context"
	"sync"
	"time"
)

// MemorySecretStore is an in-memory implementation of SecretStore.
// This is intended for development and testing only.
type MemorySecretStore struct {
	mu      sync.RWMutex
	secrets map[string]*Secret
}

// NewMemorySecretStore creates a new in-memory secret store.
func NewMemorySecretStore() *MemorySecretStore {
	return &MemorySecretStore{
		secrets: make(map[string]*Secret),
	}
}

// GetSecret retrieves the user's secret.
func (s *MemorySecretStore) GetSecret(ctx context.Context, userID string) (*Secret, error) {
	if err := mfaCtxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return nil, ErrMfaNotEnabled
	}
	out := *secret
	return &out, nil
}

// SaveSecret stores or replaces the user's secret.
func (s *MemorySecretStore) SaveSecret(ctx context.Context, secret *Secret) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *secret
	s.secrets[secret.UserID] = &copied
	return nil
}

// DeleteSecret removes the user's secret.
func (s *MemorySecretStore) DeleteSecret(ctx context.Context, userID string) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[userID]; !ok {
		return ErrMfaNotEnabled
	}
	delete(s.secrets, userID)
	return nil
}

// MemoryBackupCodeStore is an in-memory implementation of BackupCodeStore.
// This is intended for development and testing only.
type MemoryBackupCodeStore struct {
	mu     sync.Mutex
	byUser map[string][]*BackupCode
	byID   map[string]*BackupCode
}

// NewMemoryBackupCodeStore creates a new in-memory backup code store.
func NewMemoryBackupCodeStore() *MemoryBackupCodeStore {
	return &MemoryBackupCodeStore{
		byUser: make(map[string][]*BackupCode),
		byID:   make(map[string]*BackupCode),
	}
}

// ReplaceBatch atomically replaces the user's backup codes.
func (s *MemoryBackupCodeStore) ReplaceBatch(ctx context.Context, userID string, codes []*BackupCode) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, old := range s.byUser[userID] {
		delete(s.byID, old.ID)
	}

	stored := make([]*BackupCode, len(codes))
	for i, code := range codes {
		copied := *code
		stored[i] = &copied
		s.byID[copied.ID] = &copied
	}
	s.byUser[userID] = stored
	return nil
}

// GetUnused retrieves the user's unused backup codes.
func (s *MemoryBackupCodeStore) GetUnused(ctx context.Context, userID string) ([]*BackupCode, error) {
	if err := mfaCtxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*BackupCode
	for _, code := range s.byUser[userID] {
		if !code.Used() {
			copied := *code
			result = append(result, &copied)
		}
	}
	return result, nil
}

// MarkUsed consumes a backup code with a single concurrent winner.
func (s *MemoryBackupCodeStore) MarkUsed(ctx context.Context, codeID string, usedAt time.Time) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.byID[codeID]
	if !ok || code.Used() {
		return ErrInvalidCode
	}

	stamped := usedAt
	code.UsedAt = &stamped
	return nil
}

// Status reports the current batch inventory.
func (s *MemoryBackupCodeStore) Status(ctx context.Context, userID string) (*BackupCodeStatus, error) {
	if err := mfaCtxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := &BackupCodeStatus{}
	for _, code := range s.byUser[userID] {
		status.BatchID = code.BatchID
		status.Total++
		if !code.Used() {
			status.Remaining++
		}
	}
	return status, nil
}

// DeleteByUserID removes all of the user's backup codes.
func (s *MemoryBackupCodeStore) DeleteByUserID(ctx context.Context, userID string) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range s.byUser[userID] {
		delete(s.byID, code.ID)
	}
	delete(s.byUser, userID)
	return nil
}

// MemoryFailureCounter is an in-memory FailureCounter with a rolling
// window. This is intended for single-instance deployments and testing.
type MemoryFailureCounter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	window   time.Duration
	now      func() time.Time
}

// FailureCounterOption configures a MemoryFailureCounter.
type FailureCounterOption func(*MemoryFailureCounter)

// WithWindow overrides the rolling window.
func WithWindow(window time.Duration) FailureCounterOption {
	return func(c *MemoryFailureCounter) {
		if window > 0 {
			c.window = window
		}
	}
}

// WithFailureClock overrides the time source. Used by tests.
func WithFailureClock(now func() time.Time) FailureCounterOption {
	return func(c *MemoryFailureCounter) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryFailureCounter creates an in-memory failure counter.
func NewMemoryFailureCounter(opts ...FailureCounterOption) *MemoryFailureCounter {
	c := &MemoryFailureCounter{
		attempts: make(map[string][]time.Time),
		window:   DefaultLockoutWindow,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordFailure registers a failed attempt and returns the in-window count.
func (c *MemoryFailureCounter) RecordFailure(ctx context.Context, userID string) (int, error) {
	if err := mfaCtxErr(ctx); err != nil {
		return 0, err
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.prune(userID, now)
	kept = append(kept, now)
	c.attempts[userID] = kept
	return len(kept), nil
}

// Failures returns the number of failures inside the rolling window.
func (c *MemoryFailureCounter) Failures(ctx context.Context, userID string) (int, error) {
	if err := mfaCtxErr(ctx); err != nil {
		return 0, err
	}

	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.prune(userID, now)
	c.attempts[userID] = kept
	return len(kept), nil
}

// Reset clears the user's failure history.
func (c *MemoryFailureCounter) Reset(ctx context.Context, userID string) error {
	if err := mfaCtxErr(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.attempts, userID)
	return nil
}

// prune drops attempts older than the window. Caller holds c.mu.
func (c *MemoryFailureCounter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-c.window)
	var kept []time.Time
	for _, at := range c.attempts[userID] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

func mfaCtxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrStoreUnavailable
	default:
		return nil
	}
}
