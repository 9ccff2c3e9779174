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
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// MemoryCredentialStore is an in-memory implementation of CredentialStore.
// This is intended for development and testing only.
type MemoryCredentialStore struct {
	mu       sync.RWMutex
	byID     map[string]*Credential
	byUserID map[string][]string
}

// NewMemoryCredentialStore creates a new in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		byID:     make(map[string]*Credential),
		byUserID: make(map[string][]string),
	}
}

// Save stores a new credential. The credential ID must be globally unique;
// a collision with any user's credential fails.
func (s *MemoryCredentialStore) Save(ctx context.Context, cred *Credential) error {
	if err := storeCtxErr(ctx); err != nil {
		return err
	}

	credKey := hex.EncodeToString(cred.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[credKey]; ok {
		return ErrDuplicateCredential
	}

	s.byID[credKey] = copyCredential(cred)
	s.byUserID[cred.UserID] = append(s.byUserID[cred.UserID], credKey)

	return nil
}

// GetByUserID retrieves all credentials for a user.
func (s *MemoryCredentialStore) GetByUserID(ctx context.Context, userID string) ([]*Credential, error) {
	if err := storeCtxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.byUserID[userID]
	result := make([]*Credential, 0, len(keys))
	for _, key := range keys {
		if cred, ok := s.byID[key]; ok {
			result = append(result, copyCredential(cred))
		}
	}
	return result, nil
}

// GetByCredentialID retrieves a credential by its ID.
func (s *MemoryCredentialStore) GetByCredentialID(ctx context.Context, credID []byte) (*Credential, error) {
	if err := storeCtxErr(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return copyCredential(cred), nil
}

// UpdateSignCount advances the stored sign count with compare-and-swap
// semantics. A stored count that moved away from oldCount means another
// assertion won the race; the caller's view is stale and the update fails.
func (s *MemoryCredentialStore) UpdateSignCount(ctx context.Context, credID []byte, oldCount, newCount uint32, usedAt time.Time) error {
	if err := storeCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[hex.EncodeToString(credID)]
	if !ok {
		return ErrCredentialNotFound
	}
	if cred.Authenticator.SignCount != oldCount {
		return ErrCounterRegression
	}

	cred.Authenticator.SignCount = newCount
	cred.LastUsedAt = usedAt
	return nil
}

// Delete removes a credential by its ID.
func (s *MemoryCredentialStore) Delete(ctx context.Context, credID []byte) error {
	if err := storeCtxErr(ctx); err != nil {
		return err
	}

	credKey := hex.EncodeToString(credID)

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[credKey]
	if !ok {
		return ErrCredentialNotFound
	}

	delete(s.byID, credKey)
	s.removeUserIndex(cred.UserID, credKey)
	return nil
}

// DeleteByUserID removes all credentials for a user.
func (s *MemoryCredentialStore) DeleteByUserID(ctx context.Context, userID string) error {
	if err := storeCtxErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.byUserID[userID] {
		delete(s.byID, key)
	}
	delete(s.byUserID, userID)
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// removeUserIndex drops credKey from the user's index. Caller holds s.mu.
func (s *MemoryCredentialStore) removeUserIndex(userID, credKey string) {
	keys := s.byUserID[userID]
	for i, key := range keys {
		if key == credKey {
			s.byUserID[userID] = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(s.byUserID[userID]) == 0 {
		delete(s.byUserID, userID)
	}
}

func copyCredential(cred *Credential) *Credential {
	out := *cred
	out.ID = append([]byte(nil), cred.ID...)
	out.PublicKey = append([]byte(nil), cred.PublicKey...)
	out.Authenticator.AAGUID = append([]byte(nil), cred.Authenticator.AAGUID...)
	out.Transport = append([]protocol.AuthenticatorTransport(nil), cred.Transport...)
	return &out
}

func storeCtxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrStoreUnavailable
	default:
		return nil
	}
}
