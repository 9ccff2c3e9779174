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
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/jeremyhahn/go-authgate/pkg/challenge"
	"github.com/jeremyhahn/go-authgate/pkg/metrics"
)

// Service runs WebAuthn registration and authentication ceremonies against
// the credential registry, anchored on single-use challenges.
type Service struct {
	webauthn   *webauthn.WebAuthn
	config     *Config
	creds      CredentialStore
	challenges challenge.Store
	logger     *slog.Logger
	now        func() time.Time
	configured bool
}

// ServiceParams contains dependencies for creating a passkey service.
type ServiceParams struct {
	// Config is the ceremony configuration (required).
	Config *Config

	// CredentialStore is the credential persistence layer (required).
	CredentialStore CredentialStore

	// ChallengeStore issues and consumes ceremony challenges (required).
	ChallengeStore challenge.Store

	// Logger receives ceremony outcomes. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewService creates a new passkey service with the provided dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if params.CredentialStore == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if params.ChallengeStore == nil {
		return nil, fmt.Errorf("challenge store is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	wa, err := webauthn.New(params.Config.ToWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create webauthn instance: %w", err)
	}

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		webauthn:   wa,
		config:     params.Config,
		creds:      params.CredentialStore,
		challenges: params.ChallengeStore,
		logger:     logger,
		now:        time.Now,
		configured: true,
	}, nil
}

// BeginRegistration starts a registration ceremony for the user.
// Returns the creation options to send to the client and the challenge ID
// the client must present on finish. Existing credentials are excluded so
// an authenticator cannot re-register itself.
func (s *Service) BeginRegistration(ctx context.Context, userID, displayName string) (*protocol.CredentialCreation, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}
	if userID == "" {
		return nil, "", WrapError("begin registration", ErrMalformedResponse)
	}

	existing, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return nil, "", WrapError("get credentials", err)
	}

	excludeList := make([]protocol.CredentialDescriptor, len(existing))
	for i, cred := range existing {
		excludeList[i] = protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
			Transport:    cred.Transport,
		}
	}

	user := newCeremonyUser(userID, displayName, existing)
	options, _, err := s.webauthn.BeginRegistration(user,
		webauthn.WithExclusions(excludeList),
	)
	if err != nil {
		return nil, "", WrapError("begin registration", err)
	}

	ch, err := s.challenges.Issue(ctx, userID, challenge.PurposeRegistration)
	if err != nil {
		return nil, "", WrapError("issue challenge", err)
	}

	// The challenge store owns the nonce; the library-generated one is
	// discarded along with its session state, which is reconstructed from
	// the challenge record at finish time.
	options.Response.Challenge = protocol.URLEncodedBase64(ch.Nonce)

	s.logger.Debug("registration ceremony started",
		slog.String("user_id", userID),
		slog.String("challenge_id", ch.ID))

	return options, ch.ID, nil
}

// FinishRegistration completes a registration ceremony. The challenge is
// consumed first, so a failed attestation still burns it. On success the
// new credential is persisted and returned.
func (s *Service) FinishRegistration(ctx context.Context, userID, challengeID string, response *protocol.ParsedCredentialCreationData, friendlyName string) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	if response == nil {
		return nil, WrapError("finish registration", ErrMalformedResponse)
	}

	start := time.Now()
	status := metrics.StatusError
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyRegistration, status, time.Since(start).Seconds())
	}()

	ch, err := s.consumeFor(ctx, userID, challengeID, challenge.PurposeRegistration,
		response.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, err
	}

	user := newCeremonyUser(userID, "", nil)
	session := s.sessionFor(ch, user, nil)

	credential, err := s.webauthn.CreateCredential(user, session, response)
	if err != nil {
		s.logger.Info("registration attestation rejected",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return nil, WrapError("create credential", mapProtocolError(err))
	}

	cred := newCredential(userID, credential, friendlyName)
	if err := s.creds.Save(ctx, cred); err != nil {
		return nil, WrapError("save credential", err)
	}

	status = metrics.StatusSuccess
	s.logger.Info("credential registered",
		slog.String("user_id", userID),
		slog.String("credential_id", base64.RawURLEncoding.EncodeToString(cred.ID)))

	return cred, nil
}

// BeginAuthentication starts an authentication ceremony for the user.
// Returns ErrNoCredentials when the user has nothing registered, so the
// caller can fall back to password plus MFA.
func (s *Service) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, string, error) {
	if !s.configured {
		return nil, "", ErrNotConfigured
	}

	creds, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return nil, "", WrapError("get credentials", err)
	}
	if len(creds) == 0 {
		return nil, "", WrapError("begin authentication", ErrNoCredentials)
	}

	user := newCeremonyUser(userID, "", creds)
	options, _, err := s.webauthn.BeginLogin(user)
	if err != nil {
		return nil, "", WrapError("begin authentication", err)
	}

	ch, err := s.challenges.Issue(ctx, userID, challenge.PurposeAuthentication)
	if err != nil {
		return nil, "", WrapError("issue challenge", err)
	}

	options.Response.Challenge = protocol.URLEncodedBase64(ch.Nonce)

	s.logger.Debug("authentication ceremony started",
		slog.String("user_id", userID),
		slog.String("challenge_id", ch.ID))

	return options, ch.ID, nil
}

// FinishAuthentication completes an authentication ceremony. The assertion
// signature is verified against the stored public key and the sign counter
// invariant is enforced: the new count must strictly exceed the stored one
// unless both are zero. A regression fails closed with ErrCounterRegression
// and leaves the stored counter untouched.
func (s *Service) FinishAuthentication(ctx context.Context, userID, challengeID string, response *protocol.ParsedCredentialAssertionData) (*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	if response == nil {
		return nil, WrapError("finish authentication", ErrMalformedResponse)
	}

	start := time.Now()
	status := metrics.StatusError
	defer func() {
		metrics.RecordCeremony(metrics.CeremonyAuthentication, status, time.Since(start).Seconds())
	}()

	ch, err := s.consumeFor(ctx, userID, challengeID, challenge.PurposeAuthentication,
		response.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, err
	}

	creds, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return nil, WrapError("get credentials", err)
	}

	var stored *Credential
	for _, c := range creds {
		if bytes.Equal(c.ID, response.RawID) {
			stored = c
			break
		}
	}
	if stored == nil {
		return nil, WrapError("finish authentication", ErrCredentialNotFound)
	}

	allowed := make([][]byte, len(creds))
	for i, c := range creds {
		allowed[i] = c.ID
	}

	user := newCeremonyUser(userID, "", creds)
	session := s.sessionFor(ch, user, allowed)

	verified, err := s.webauthn.ValidateLogin(user, session, response)
	if err != nil {
		s.logger.Info("assertion rejected",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return nil, WrapError("validate assertion", mapProtocolError(err))
	}

	// The library only flags a suspect counter; a regression must reject
	// the attempt outright and keep the stored counter for forensics.
	if verified.Authenticator.CloneWarning {
		s.logger.Warn("sign counter regression",
			slog.String("user_id", userID),
			slog.String("credential_id", base64.RawURLEncoding.EncodeToString(stored.ID)),
			slog.Uint64("stored_count", uint64(stored.Authenticator.SignCount)),
			slog.Uint64("presented_count", uint64(verified.Authenticator.SignCount)))
		return nil, WrapError("validate assertion", ErrCounterRegression)
	}

	usedAt := s.now().UTC()
	if err := s.creds.UpdateSignCount(ctx, stored.ID, stored.Authenticator.SignCount, verified.Authenticator.SignCount, usedAt); err != nil {
		return nil, WrapError("update sign count", err)
	}

	stored.Authenticator.SignCount = verified.Authenticator.SignCount
	stored.LastUsedAt = usedAt

	status = metrics.StatusSuccess
	s.logger.Info("authentication succeeded",
		slog.String("user_id", userID),
		slog.String("credential_id", base64.RawURLEncoding.EncodeToString(stored.ID)))

	return stored, nil
}

// ListCredentials retrieves all credentials registered to a user.
func (s *Service) ListCredentials(ctx context.Context, userID string) ([]*Credential, error) {
	if !s.configured {
		return nil, ErrNotConfigured
	}
	return s.creds.GetByUserID(ctx, userID)
}

// HasCredentials reports whether the user has any registered credentials.
func (s *Service) HasCredentials(ctx context.Context, userID string) (bool, error) {
	if !s.configured {
		return false, ErrNotConfigured
	}
	creds, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return false, WrapError("get credentials", err)
	}
	return len(creds) > 0, nil
}

// RemoveCredential deletes one of the user's credentials. Ownership is
// checked so one account cannot revoke another's credential.
func (s *Service) RemoveCredential(ctx context.Context, userID string, credID []byte) error {
	if !s.configured {
		return ErrNotConfigured
	}

	cred, err := s.creds.GetByCredentialID(ctx, credID)
	if err != nil {
		return WrapError("get credential", err)
	}
	if cred.UserID != userID {
		return WrapError("remove credential", ErrCredentialNotFound)
	}

	if err := s.creds.Delete(ctx, credID); err != nil {
		return WrapError("delete credential", err)
	}

	s.logger.Info("credential removed",
		slog.String("user_id", userID),
		slog.String("credential_id", base64.RawURLEncoding.EncodeToString(credID)))
	return nil
}

// Config returns the service configuration.
func (s *Service) Config() *Config {
	return s.config
}

// consumeFor burns the challenge and checks it was issued to this user for
// this purpose. The client-presented nonce comes from the collected client
// data, so a tampered response fails the byte comparison in the store.
func (s *Service) consumeFor(ctx context.Context, userID, challengeID string, purpose challenge.Purpose, clientChallenge string) (*challenge.Challenge, error) {
	clientNonce, err := base64.RawURLEncoding.DecodeString(clientChallenge)
	if err != nil {
		return nil, WrapError("consume challenge", ErrMalformedResponse)
	}

	ch, err := s.challenges.Consume(ctx, challengeID, clientNonce)
	if err != nil {
		return nil, WrapError("consume challenge", err)
	}
	if ch.UserID != userID || ch.Purpose != purpose {
		return nil, WrapError("consume challenge", challenge.ErrChallengeMismatch)
	}
	return ch, nil
}

// credentialParameters is the algorithm list advertised in creation
// options. The reconstructed session must carry the same list, since
// attestation verification checks the attested algorithm against it.
var credentialParameters = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS384},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgPS512},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgEdDSA},
}

// sessionFor reconstructs the library session state from the consumed
// challenge record. No session payload is stored between begin and finish.
func (s *Service) sessionFor(ch *challenge.Challenge, user *ceremonyUser, allowed [][]byte) webauthn.SessionData {
	return webauthn.SessionData{
		Challenge:            base64.RawURLEncoding.EncodeToString(ch.Nonce),
		UserID:               user.WebAuthnID(),
		AllowedCredentialIDs: allowed,
		Expires:              ch.ExpiresAt,
		UserVerification:     s.config.userVerificationRequirement(),
		CredParams:           credentialParameters,
	}
}

// mapProtocolError converts go-webauthn verification failures to the
// service error taxonomy.
func mapProtocolError(err error) error {
	var pErr *protocol.Error
	if errors.As(err, &pErr) {
		switch pErr.Type {
		case "invalid_request", "parse_error":
			return ErrMalformedResponse
		}
	}
	return ErrVerificationFailed
}
