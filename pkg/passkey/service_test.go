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
	"testing"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-authgate/pkg/challenge"
)

const (
	testRPID   = "example.com"
	testOrigin = "https://example.com"
)

func validTestConfig() *Config {
	return &Config{
		RPID:          testRPID,
		RPDisplayName: "Example",
		RPOrigins:     []string{testOrigin},
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:          validTestConfig(),
		CredentialStore: NewMemoryCredentialStore(),
		ChallengeStore:  challenge.NewMemoryStore(),
	})
	require.NoError(t, err)
	return svc
}

// registerCredential runs a full registration ceremony with the mock
// authenticator and returns the stored credential.
func registerCredential(t *testing.T, svc *Service, userID string, mock *MockAuthenticator) *Credential {
	t.Helper()
	ctx := context.Background()

	options, challengeID, err := svc.BeginRegistration(ctx, userID, "")
	require.NoError(t, err)

	attestation, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	cred, err := svc.FinishRegistration(ctx, userID, challengeID, attestation, "test key")
	require.NoError(t, err)
	return cred
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		params  ServiceParams
		wantErr string
	}{
		{
			name:    "nil config",
			params:  ServiceParams{},
			wantErr: "config is required",
		},
		{
			name: "nil credential store",
			params: ServiceParams{
				Config: validTestConfig(),
			},
			wantErr: "credential store is required",
		},
		{
			name: "nil challenge store",
			params: ServiceParams{
				Config:          validTestConfig(),
				CredentialStore: NewMemoryCredentialStore(),
			},
			wantErr: "challenge store is required",
		},
		{
			name: "invalid config",
			params: ServiceParams{
				Config:          &Config{},
				CredentialStore: NewMemoryCredentialStore(),
				ChallengeStore:  challenge.NewMemoryStore(),
			},
			wantErr: "invalid config",
		},
		{
			name: "valid params",
			params: ServiceParams{
				Config:          validTestConfig(),
				CredentialStore: NewMemoryCredentialStore(),
				ChallengeStore:  challenge.NewMemoryStore(),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, svc)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, svc)
				assert.NotNil(t, svc.Config())
			}
		})
	}
}

func TestBeginRegistration(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	options, challengeID, err := svc.BeginRegistration(ctx, "user-1", "Test User")
	require.NoError(t, err)
	require.NotNil(t, options)
	assert.NotEmpty(t, challengeID)
	assert.Len(t, []byte(options.Response.Challenge), challenge.NonceSize)
	assert.Equal(t, testRPID, options.Response.RelyingParty.ID)
}

func TestBeginRegistrationExcludesExisting(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	options, _, err := svc.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, options.Response.CredentialExcludeList, 1)
	assert.Equal(t, mock.CredentialID, []byte(options.Response.CredentialExcludeList[0].CredentialID))
}

func TestFinishRegistration(t *testing.T) {
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	cred := registerCredential(t, svc, "user-1", mock)
	assert.Equal(t, mock.CredentialID, cred.ID)
	assert.Equal(t, "user-1", cred.UserID)
	assert.Equal(t, "test key", cred.FriendlyName)
	assert.NotEmpty(t, cred.PublicKey)
	assert.False(t, cred.CreatedAt.IsZero())
}

func TestFinishRegistrationAcceptsAdvertisedAlgorithms(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	options, challengeID, err := svc.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	// The finish-side session must accept every algorithm the creation
	// options advertised. The mock attests with ES256.
	advertised := make([]webauthncose.COSEAlgorithmIdentifier, 0, len(options.Response.Parameters))
	for _, p := range options.Response.Parameters {
		advertised = append(advertised, p.Algorithm)
	}
	require.Contains(t, advertised, webauthncose.AlgES256)
	for _, alg := range advertised {
		assert.Contains(t, credentialParameters, protocol.CredentialParameter{
			Type:      protocol.PublicKeyCredentialType,
			Algorithm: alg,
		})
	}

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	attestation, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	cred, err := svc.FinishRegistration(ctx, "user-1", challengeID, attestation, "")
	require.NoError(t, err)
	assert.Equal(t, mock.CredentialID, cred.ID)
}

func TestFinishRegistrationChallengeConsumedOnce(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, challengeID, err := svc.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	attestation, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-1", challengeID, attestation, "")
	require.NoError(t, err)

	// Replaying the same ceremony must fail on the burned challenge.
	_, err = svc.FinishRegistration(ctx, "user-1", challengeID, attestation, "")
	assert.ErrorIs(t, err, challenge.ErrChallengeAlreadyConsumed)
}

func TestFinishRegistrationWrongNonceBurnsChallenge(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, challengeID, err := svc.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	// Attestation over a nonce the store never issued.
	bogus := make([]byte, challenge.NonceSize)
	attestation, err := mock.CreateAttestationObject(bogus, testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-1", challengeID, attestation, "")
	assert.ErrorIs(t, err, challenge.ErrChallengeMismatch)

	// The challenge is gone even though the nonce never matched.
	good, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)
	_, err = svc.FinishRegistration(ctx, "user-1", challengeID, good, "")
	assert.ErrorIs(t, err, challenge.ErrChallengeAlreadyConsumed)
}

func TestFinishRegistrationWrongUser(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, challengeID, err := svc.BeginRegistration(ctx, "user-1", "")
	require.NoError(t, err)

	attestation, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-2", challengeID, attestation, "")
	assert.ErrorIs(t, err, challenge.ErrChallengeMismatch)
}

func TestFinishRegistrationDuplicateCredential(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	// The same authenticator credential presented by another account.
	options, challengeID, err := svc.BeginRegistration(ctx, "user-2", "")
	require.NoError(t, err)

	attestation, err := mock.CreateAttestationObject(options.Response.Challenge, testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "user-2", challengeID, attestation, "")
	assert.ErrorIs(t, err, ErrDuplicateCredential)
}

func TestFinishRegistrationNilResponse(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.FinishRegistration(context.Background(), "user-1", "id", nil, "")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBeginAuthenticationNoCredentials(t *testing.T) {
	svc := newTestService(t)

	_, _, err := svc.BeginAuthentication(context.Background(), "user-1")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestAuthentication(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, options.Response.AllowedCredentials, 1)

	assertion, err := mock.CreateAssertionResponse(options.Response.Challenge, []byte("user-1"), testOrigin)
	require.NoError(t, err)

	cred, err := svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cred.Authenticator.SignCount)
	assert.False(t, cred.LastUsedAt.IsZero())
}

func TestAuthenticationCounterAdvances(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	for want := uint32(1); want <= 3; want++ {
		options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
		require.NoError(t, err)

		assertion, err := mock.CreateAssertionResponse(options.Response.Challenge, []byte("user-1"), testOrigin)
		require.NoError(t, err)

		cred, err := svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
		require.NoError(t, err)
		assert.Equal(t, want, cred.Authenticator.SignCount)
	}
}

func TestAuthenticationCounterRegression(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	// Advance the stored counter to 5.
	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	assertion, err := mock.CreateAssertionResponseWithCount(options.Response.Challenge, []byte("user-1"), testOrigin, 5)
	require.NoError(t, err)
	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	require.NoError(t, err)

	// A replayed or cloned authenticator presents a stale counter.
	options, challengeID, err = svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	stale, err := mock.CreateAssertionResponseWithCount(options.Response.Challenge, []byte("user-1"), testOrigin, 3)
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, stale)
	assert.ErrorIs(t, err, ErrCounterRegression)

	// Stored counter must be untouched and the credential still usable.
	creds, err := svc.ListCredentials(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, uint32(5), creds[0].Authenticator.SignCount)
}

func TestAuthenticationEqualCounterRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	assertion, err := mock.CreateAssertionResponseWithCount(options.Response.Challenge, []byte("user-1"), testOrigin, 7)
	require.NoError(t, err)
	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	require.NoError(t, err)

	options, challengeID, err = svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	equal, err := mock.CreateAssertionResponseWithCount(options.Response.Challenge, []byte("user-1"), testOrigin, 7)
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, equal)
	assert.ErrorIs(t, err, ErrCounterRegression)
}

func TestAuthenticationZeroCounters(t *testing.T) {
	// Authenticators without a counter report zero forever; both-zero is
	// the one permitted non-increase.
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)
	assertion, err := mock.CreateAssertionResponseWithCount(options.Response.Challenge, []byte("user-1"), testOrigin, 0)
	require.NoError(t, err)

	cred, err := svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), cred.Authenticator.SignCount)
}

func TestAuthenticationUnknownCredential(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	registered, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", registered)

	stranger, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)

	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	assertion, err := stranger.CreateAssertionResponse(options.Response.Challenge, []byte("user-1"), testOrigin)
	require.NoError(t, err)

	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	assert.ErrorIs(t, err, ErrCredentialNotFound)
}

func TestAuthenticationTamperedSignature(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	options, challengeID, err := svc.BeginAuthentication(ctx, "user-1")
	require.NoError(t, err)

	assertion, err := mock.CreateAssertionResponse(options.Response.Challenge, []byte("user-1"), testOrigin)
	require.NoError(t, err)
	assertion.Response.Signature[4] ^= 0xff

	_, err = svc.FinishAuthentication(ctx, "user-1", challengeID, assertion)
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestHasCredentials(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	has, err := svc.HasCredentials(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, has)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	registerCredential(t, svc, "user-1", mock)

	has, err = svc.HasCredentials(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestRemoveCredential(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	mock, err := NewMockAuthenticator(testRPID)
	require.NoError(t, err)
	cred := registerCredential(t, svc, "user-1", mock)

	// Another account cannot revoke it.
	err = svc.RemoveCredential(ctx, "user-2", cred.ID)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, svc.RemoveCredential(ctx, "user-1", cred.ID))

	has, err := svc.HasCredentials(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMapProtocolError(t *testing.T) {
	assert.ErrorIs(t, mapProtocolError(&protocol.Error{Type: "invalid_request"}), ErrMalformedResponse)
	assert.ErrorIs(t, mapProtocolError(&protocol.Error{Type: "verification_error"}), ErrVerificationFailed)
	assert.ErrorIs(t, mapProtocolError(assert.AnError), ErrVerificationFailed)
}
