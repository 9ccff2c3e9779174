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
	"crypto/subtle"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct horse battery staple"

// fakePasswordVerifier stands in for the caller's account store.
type fakePasswordVerifier struct {
	password string
}

func (v *fakePasswordVerifier) VerifyPassword(ctx context.Context, userID, password string) error {
	if subtle.ConstantTimeCompare([]byte(v.password), []byte(password)) != 1 {
		return ErrInvalidPassword
	}
	return nil
}

var testTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	mgr, err := NewManager(ManagerParams{
		SecretStore:      NewMemorySecretStore(),
		BackupCodeStore:  NewMemoryBackupCodeStore(),
		PasswordVerifier: &fakePasswordVerifier{password: testPassword},
		BcryptCost:       bcrypt.MinCost,
		Clock:            func() time.Time { return testTime },
	})
	require.NoError(t, err)
	return mgr
}

// enrollUser walks a user through setup and confirmation.
func enrollUser(t *testing.T, mgr *Manager, userID string) string {
	t.Helper()
	ctx := context.Background()

	info, err := mgr.InitiateSetup(ctx, userID, "")
	require.NoError(t, err)

	code, err := totp.GenerateCode(info.Secret, testTime)
	require.NoError(t, err)

	require.NoError(t, mgr.ConfirmSetup(ctx, userID, code, testPassword))
	return info.Secret
}

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		params  ManagerParams
		wantErr string
	}{
		{
			name:    "nil secret store",
			params:  ManagerParams{},
			wantErr: "secret store is required",
		},
		{
			name: "nil backup code store",
			params: ManagerParams{
				SecretStore: NewMemorySecretStore(),
			},
			wantErr: "backup code store is required",
		},
		{
			name: "nil password verifier",
			params: ManagerParams{
				SecretStore:     NewMemorySecretStore(),
				BackupCodeStore: NewMemoryBackupCodeStore(),
			},
			wantErr: "password verifier is required",
		},
		{
			name: "valid params",
			params: ManagerParams{
				SecretStore:      NewMemorySecretStore(),
				BackupCodeStore:  NewMemoryBackupCodeStore(),
				PasswordVerifier: &fakePasswordVerifier{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewManager(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, mgr)
			}
		})
	}
}

func TestInitiateSetup(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	info, err := mgr.InitiateSetup(ctx, "user-1", "user-1@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, info.Secret)
	assert.Contains(t, info.URI, "otpauth://totp/")
	assert.Contains(t, info.URI, "go-authgate")

	enabled, err := mgr.Enabled(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, enabled, "pending secret must not enable mfa")
}

func TestInitiateSetupOverwritesPending(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	first, err := mgr.InitiateSetup(ctx, "user-1", "")
	require.NoError(t, err)
	second, err := mgr.InitiateSetup(ctx, "user-1", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Secret, second.Secret)

	// The abandoned secret no longer confirms.
	code, err := totp.GenerateCode(first.Secret, testTime)
	require.NoError(t, err)
	err = mgr.ConfirmSetup(ctx, "user-1", code, testPassword)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestInitiateSetupAlreadyEnabled(t *testing.T) {
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	_, err := mgr.InitiateSetup(context.Background(), "user-1", "")
	assert.ErrorIs(t, err, ErrMfaAlreadyEnabled)
}

func TestConfirmSetup(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	enabled, err := mgr.Enabled(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestConfirmSetupWrongPassword(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	info, err := mgr.InitiateSetup(ctx, "user-1", "")
	require.NoError(t, err)

	code, err := totp.GenerateCode(info.Secret, testTime)
	require.NoError(t, err)

	err = mgr.ConfirmSetup(ctx, "user-1", code, "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	// Still pending; the right password succeeds afterwards.
	require.NoError(t, mgr.ConfirmSetup(ctx, "user-1", code, testPassword))
}

func TestConfirmSetupWrongCodeLeavesPending(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)

	info, err := mgr.InitiateSetup(ctx, "user-1", "")
	require.NoError(t, err)

	err = mgr.ConfirmSetup(ctx, "user-1", "000000", testPassword)
	assert.ErrorIs(t, err, ErrInvalidCode)

	code, err := totp.GenerateCode(info.Secret, testTime)
	require.NoError(t, err)
	require.NoError(t, mgr.ConfirmSetup(ctx, "user-1", code, testPassword))
}

func TestConfirmSetupSkew(t *testing.T) {
	tests := []struct {
		name    string
		codeAt  time.Time
		wantErr error
	}{
		{"current step", testTime, nil},
		{"previous step", testTime.Add(-30 * time.Second), nil},
		{"next step", testTime.Add(30 * time.Second), nil},
		{"two steps behind", testTime.Add(-90 * time.Second), ErrInvalidCode},
		{"two steps ahead", testTime.Add(90 * time.Second), ErrInvalidCode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mgr := newTestManager(t)

			info, err := mgr.InitiateSetup(ctx, "user-1", "")
			require.NoError(t, err)

			code, err := totp.GenerateCode(info.Secret, tt.codeAt)
			require.NoError(t, err)

			err = mgr.ConfirmSetup(ctx, "user-1", code, testPassword)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfirmSetupNotInitiated(t *testing.T) {
	mgr := newTestManager(t)

	err := mgr.ConfirmSetup(context.Background(), "user-1", "123456", testPassword)
	assert.ErrorIs(t, err, ErrMfaNotEnabled)
}

func TestDisable(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	_, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	err = mgr.Disable(ctx, "user-1", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)

	require.NoError(t, mgr.Disable(ctx, "user-1", testPassword))

	enabled, err := mgr.Enabled(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, enabled)

	status, err := mgr.BackupCodeStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, status.Total)
}

func TestDisableNotEnabled(t *testing.T) {
	mgr := newTestManager(t)

	err := mgr.Disable(context.Background(), "user-1", testPassword)
	assert.ErrorIs(t, err, ErrMfaNotEnabled)
}

func TestRegenerateBackupCodes(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	codes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, codes, BackupCodeBatchSize)

	for _, code := range codes {
		assert.Len(t, code, backupCodeLength)
		for _, r := range code {
			assert.Contains(t, backupCodeAlphabet, string(r))
		}
		// No ambiguous characters.
		assert.NotContains(t, code, "0")
		assert.NotContains(t, code, "O")
		assert.NotContains(t, code, "1")
		assert.NotContains(t, code, "I")
		assert.NotContains(t, code, "L")
	}

	status, err := mgr.BackupCodeStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, status.BatchID)
	assert.Equal(t, BackupCodeBatchSize, status.Total)
	assert.Equal(t, BackupCodeBatchSize, status.Remaining)
}

func TestRegenerateBackupCodesRequiresMfa(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.RegenerateBackupCodes(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrMfaNotEnabled)
}

func TestRegenerateInvalidatesPriorBatch(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	oldCodes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	newCodes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	err = mgr.ConsumeBackupCode(ctx, "user-1", oldCodes[0])
	assert.ErrorIs(t, err, ErrInvalidCode)

	assert.NoError(t, mgr.ConsumeBackupCode(ctx, "user-1", newCodes[0]))
}

func TestConsumeBackupCodeOnce(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	codes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, mgr.ConsumeBackupCode(ctx, "user-1", codes[3]))

	err = mgr.ConsumeBackupCode(ctx, "user-1", codes[3])
	assert.ErrorIs(t, err, ErrInvalidCode)

	status, err := mgr.BackupCodeStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, BackupCodeBatchSize-1, status.Remaining)
}

func TestConsumeBackupCodeNormalizesInput(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	codes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	// Lowercase with surrounding whitespace, as users type them.
	assert.NoError(t, mgr.ConsumeBackupCode(ctx, "user-1", "  "+strings.ToLower(codes[0])+" "))
}

func TestConsumeBackupCodeConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	enrollUser(t, mgr, "user-1")

	codes, err := mgr.RegenerateBackupCodes(ctx, "user-1")
	require.NoError(t, err)

	const goroutines = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := mgr.ConsumeBackupCode(ctx, "user-1", codes[0]); err == nil {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestVerifyTOTP(t *testing.T) {
	ctx := context.Background()
	mgr := newTestManager(t)
	secret := enrollUser(t, mgr, "user-1")

	code, err := totp.GenerateCode(secret, testTime)
	require.NoError(t, err)

	assert.NoError(t, mgr.VerifyTOTP(ctx, "user-1", code))
	assert.ErrorIs(t, mgr.VerifyTOTP(ctx, "user-1", "000000"), ErrInvalidCode)
}

func TestFailureCounterWindow(t *testing.T) {
	current := testTime
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	counter := NewMemoryFailureCounter(WithWindow(15*time.Minute), WithFailureClock(clock))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := counter.RecordFailure(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}

	// Old failures roll out of the window.
	mu.Lock()
	current = current.Add(16 * time.Minute)
	mu.Unlock()

	n, err := counter.Failures(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFailureCounterReset(t *testing.T) {
	counter := NewMemoryFailureCounter()
	ctx := context.Background()

	_, err := counter.RecordFailure(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, counter.Reset(ctx, "user-1"))

	n, err := counter.Failures(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStoresContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	secrets := NewMemorySecretStore()
	_, err := secrets.GetSecret(ctx, "user-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	codes := NewMemoryBackupCodeStore()
	_, err = codes.GetUnused(ctx, "user-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	counter := NewMemoryFailureCounter()
	_, err = counter.Failures(ctx, "user-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
