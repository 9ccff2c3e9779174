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
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// BackupCodeBatchSize is the number of codes issued per batch.
	BackupCodeBatchSize = 10

	// backupCodeLength is the number of characters per code.
	backupCodeLength = 10

	// backupCodeAlphabet avoids characters that misread when typed:
	// no 0/O, no 1/I/L.
	backupCodeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

	// totpPeriod is the TOTP step in seconds.
	totpPeriod = 30

	// totpSecretSize is the shared secret size in bytes (160 bits).
	totpSecretSize = 20
)

// Manager handles TOTP secret lifecycle and backup codes.
type Manager struct {
	secrets    SecretStore
	codes      BackupCodeStore
	passwords  PasswordVerifier
	issuer     string
	bcryptCost int
	logger     *slog.Logger
	now        func() time.Time
}

// ManagerParams contains dependencies for creating an MFA manager.
type ManagerParams struct {
	// SecretStore persists TOTP secrets (required).
	SecretStore SecretStore

	// BackupCodeStore persists hashed backup codes (required).
	BackupCodeStore BackupCodeStore

	// PasswordVerifier proves account passwords for state-changing
	// operations (required).
	PasswordVerifier PasswordVerifier

	// Issuer is the otpauth issuer label. Defaults to "go-authgate".
	Issuer string

	// BcryptCost overrides the backup code hashing cost. Defaults to
	// bcrypt.DefaultCost.
	BcryptCost int

	// Logger receives MFA state changes. Defaults to slog.Default().
	Logger *slog.Logger

	// Clock overrides the time source. Used by tests.
	Clock func() time.Time
}

// NewManager creates a new MFA manager with the provided dependencies.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.SecretStore == nil {
		return nil, fmt.Errorf("secret store is required")
	}
	if params.BackupCodeStore == nil {
		return nil, fmt.Errorf("backup code store is required")
	}
	if params.PasswordVerifier == nil {
		return nil, fmt.Errorf("password verifier is required")
	}

	issuer := params.Issuer
	if issuer == "" {
		issuer = "go-authgate"
	}
	cost := params.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Manager{
		secrets:    params.SecretStore,
		codes:      params.BackupCodeStore,
		passwords:  params.PasswordVerifier,
		issuer:     issuer,
		bcryptCost: cost,
		logger:     logger,
		now:        clock,
	}, nil
}

// InitiateSetup provisions a new pending TOTP secret for the user and
// returns the enrollment material. A pending secret from an abandoned
// setup is overwritten; a confirmed secret fails with ErrMfaAlreadyEnabled.
func (m *Manager) InitiateSetup(ctx context.Context, userID, accountName string) (*SetupInfo, error) {
	existing, err := m.secrets.GetSecret(ctx, userID)
	if err != nil && !errors.Is(err, ErrMfaNotEnabled) {
		return nil, WrapError("get secret", err)
	}
	if existing != nil && existing.Confirmed() {
		return nil, WrapError("initiate setup", ErrMfaAlreadyEnabled)
	}

	if accountName == "" {
		accountName = userID
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, WrapError("generate secret", err)
	}

	secret := &Secret{
		UserID:    userID,
		Secret:    key.Secret(),
		State:     SecretStatePending,
		CreatedAt: m.now().UTC(),
	}
	if err := m.secrets.SaveSecret(ctx, secret); err != nil {
		return nil, WrapError("save secret", err)
	}

	m.logger.Info("mfa setup initiated", slog.String("user_id", userID))

	return &SetupInfo{
		Secret: key.Secret(),
		URI:    key.URL(),
	}, nil
}

// ConfirmSetup promotes the pending secret to confirmed after the user
// proves their password and a current TOTP code. A wrong code leaves the
// pending secret intact so the user can retry.
func (m *Manager) ConfirmSetup(ctx context.Context, userID, code, password string) error {
	if err := m.passwords.VerifyPassword(ctx, userID, password); err != nil {
		return WrapError("verify password", err)
	}

	secret, err := m.secrets.GetSecret(ctx, userID)
	if err != nil {
		return WrapError("get secret", err)
	}
	if secret.Confirmed() {
		return WrapError("confirm setup", ErrMfaAlreadyEnabled)
	}

	if !m.validCode(code, secret.Secret) {
		return WrapError("confirm setup", ErrInvalidCode)
	}

	secret.State = SecretStateConfirmed
	secret.ConfirmedAt = m.now().UTC()
	if err := m.secrets.SaveSecret(ctx, secret); err != nil {
		return WrapError("save secret", err)
	}

	m.logger.Info("mfa enabled", slog.String("user_id", userID))
	return nil
}

// Disable removes the user's confirmed secret and all backup codes after
// a password proof.
func (m *Manager) Disable(ctx context.Context, userID, password string) error {
	if err := m.passwords.VerifyPassword(ctx, userID, password); err != nil {
		return WrapError("verify password", err)
	}

	secret, err := m.secrets.GetSecret(ctx, userID)
	if err != nil {
		return WrapError("get secret", err)
	}
	if !secret.Confirmed() {
		return WrapError("disable", ErrMfaNotEnabled)
	}

	if err := m.secrets.DeleteSecret(ctx, userID); err != nil {
		return WrapError("delete secret", err)
	}
	if err := m.codes.DeleteByUserID(ctx, userID); err != nil {
		return WrapError("delete backup codes", err)
	}

	m.logger.Info("mfa disabled", slog.String("user_id", userID))
	return nil
}

// Enabled reports whether the user has a confirmed TOTP secret.
func (m *Manager) Enabled(ctx context.Context, userID string) (bool, error) {
	secret, err := m.secrets.GetSecret(ctx, userID)
	if errors.Is(err, ErrMfaNotEnabled) {
		return false, nil
	}
	if err != nil {
		return false, WrapError("get secret", err)
	}
	return secret.Confirmed(), nil
}

// RegenerateBackupCodes replaces the user's backup codes with a fresh
// batch and returns the plaintexts. This is the only time the plaintexts
// exist; only bcrypt hashes are stored. Requires confirmed MFA.
func (m *Manager) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	secret, err := m.secrets.GetSecret(ctx, userID)
	if err != nil {
		return nil, WrapError("get secret", err)
	}
	if !secret.Confirmed() {
		return nil, WrapError("regenerate backup codes", ErrMfaNotEnabled)
	}

	batchID := uuid.New().String()
	createdAt := m.now().UTC()

	plaintexts := make([]string, 0, BackupCodeBatchSize)
	entries := make([]*BackupCode, 0, BackupCodeBatchSize)
	for i := 0; i < BackupCodeBatchSize; i++ {
		code, err := generateBackupCode()
		if err != nil {
			return nil, WrapError("generate backup code", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), m.bcryptCost)
		if err != nil {
			return nil, WrapError("hash backup code", err)
		}

		plaintexts = append(plaintexts, code)
		entries = append(entries, &BackupCode{
			ID:        uuid.New().String(),
			UserID:    userID,
			BatchID:   batchID,
			CodeHash:  hash,
			CreatedAt: createdAt,
		})
	}

	if err := m.codes.ReplaceBatch(ctx, userID, entries); err != nil {
		return nil, WrapError("replace batch", err)
	}

	m.logger.Info("backup codes regenerated",
		slog.String("user_id", userID),
		slog.String("batch_id", batchID))

	return plaintexts, nil
}

// BackupCodeStatus reports how many codes remain in the current batch.
func (m *Manager) BackupCodeStatus(ctx context.Context, userID string) (*BackupCodeStatus, error) {
	status, err := m.codes.Status(ctx, userID)
	if err != nil {
		return nil, WrapError("backup code status", err)
	}
	return status, nil
}

// VerifyTOTP checks a TOTP code against the user's confirmed secret.
func (m *Manager) VerifyTOTP(ctx context.Context, userID, code string) error {
	secret, err := m.secrets.GetSecret(ctx, userID)
	if err != nil {
		return WrapError("get secret", err)
	}
	if !secret.Confirmed() {
		return WrapError("verify totp", ErrMfaNotEnabled)
	}
	if !m.validCode(code, secret.Secret) {
		return WrapError("verify totp", ErrInvalidCode)
	}
	return nil
}

// ConsumeBackupCode matches the presented code against the user's unused
// backup codes and burns the match. Each code is consumable exactly once;
// concurrent presentations of the same code have a single winner.
func (m *Manager) ConsumeBackupCode(ctx context.Context, userID, code string) error {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return WrapError("consume backup code", ErrInvalidCode)
	}

	unused, err := m.codes.GetUnused(ctx, userID)
	if err != nil {
		return WrapError("get backup codes", err)
	}

	for _, entry := range unused {
		if bcrypt.CompareHashAndPassword(entry.CodeHash, []byte(normalized)) != nil {
			continue
		}
		if err := m.codes.MarkUsed(ctx, entry.ID, m.now().UTC()); err != nil {
			// Lost the race to another presentation of the same code.
			return WrapError("consume backup code", err)
		}
		m.logger.Info("backup code consumed",
			slog.String("user_id", userID),
			slog.String("batch_id", entry.BatchID))
		return nil
	}

	return WrapError("consume backup code", ErrInvalidCode)
}

// validCode validates a TOTP code with one step of skew in each direction.
func (m *Manager) validCode(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, m.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// generateBackupCode draws a code from the human-typable alphabet.
func generateBackupCode() (string, error) {
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	var sb strings.Builder
	sb.Grow(backupCodeLength)
	for i := 0; i < backupCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		sb.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
