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

// Package password verifies account passwords against a credential
// file. It backs the MFA manager's password checks when no external
// account store is wired in.
package password

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jeremyhahn/go-authgate/pkg/mfa"
)

var (
	// ErrMalformedEntry is returned when a credential file line is not
	// in user:hash form.
	ErrMalformedEntry = errors.New("malformed credential entry")
)

// FileVerifier verifies passwords against an htpasswd-style file of
// user:bcrypt-hash entries. Blank lines and lines starting with '#'
// are ignored.
type FileVerifier struct {
	mu     sync.RWMutex
	path   string
	hashes map[string]string
}

// NewFileVerifier loads the credential file at path.
func NewFileVerifier(path string) (*FileVerifier, error) {
	if path == "" {
		return nil, fmt.Errorf("credential file path is required")
	}

	v := &FileVerifier{path: path}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload re-reads the credential file, replacing all entries.
func (v *FileVerifier) Reload() error {
	data, err := os.ReadFile(v.path)
	if err != nil {
		return fmt.Errorf("failed to read credential file: %w", err)
	}

	hashes := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		user, hash, found := strings.Cut(line, ":")
		if !found || user == "" || hash == "" {
			return fmt.Errorf("%w: line %d", ErrMalformedEntry, i+1)
		}
		hashes[user] = hash
	}

	v.mu.Lock()
	v.hashes = hashes
	v.mu.Unlock()
	return nil
}

// VerifyPassword checks the password for userID. Unknown users and
// wrong passwords both return mfa.ErrInvalidPassword so callers
// cannot distinguish them.
func (v *FileVerifier) VerifyPassword(ctx context.Context, userID, password string) error {
	v.mu.RLock()
	hash, ok := v.hashes[userID]
	v.mu.RUnlock()

	if !ok {
		// Burn a comparison so unknown users cost the same as a
		// wrong password.
		_ = bcrypt.CompareHashAndPassword(burnHash, []byte(password))
		return mfa.ErrInvalidPassword
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return mfa.ErrInvalidPassword
	}
	return nil
}

// Len returns the number of loaded entries.
func (v *FileVerifier) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.hashes)
}

// burnHash is a throwaway bcrypt hash compared against when the user
// is unknown.
var burnHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("burn"), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// HashPassword generates a bcrypt hash suitable for a credential file
// entry.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// DenyAllVerifier fails every password check. It is the default when
// no credential file is configured, which keeps MFA state changes
// disabled rather than open.
type DenyAllVerifier struct{}

// VerifyPassword always returns mfa.ErrInvalidPassword.
func (DenyAllVerifier) VerifyPassword(ctx context.Context, userID, password string) error {
	return mfa.ErrInvalidPassword
}

// Interface compliance checks.
var (
	_ mfa.PasswordVerifier = (*FileVerifier)(nil)
	_ mfa.PasswordVerifier = DenyAllVerifier{}
)
