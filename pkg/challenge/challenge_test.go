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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssue(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, err := store.Issue(ctx, "user-1", PurposeRegistration)
	require.NoError(t, err)
	require.NotNil(t, ch)

	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, "user-1", ch.UserID)
	assert.Equal(t, PurposeRegistration, ch.Purpose)
	assert.Len(t, ch.Nonce, NonceSize)
	assert.False(t, ch.Consumed)
	assert.True(t, ch.ExpiresAt.After(ch.CreatedAt))
}

func TestIssueInvalidPurpose(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Issue(context.Background(), "user-1", Purpose("bogus"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPurpose)
}

func TestIssueSupersedesPrior(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Issue(ctx, "user-1", PurposeAuthentication)
	require.NoError(t, err)

	second, err := store.Issue(ctx, "user-1", PurposeAuthentication)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	// The superseded challenge is gone.
	_, err = store.Consume(ctx, first.ID, first.Nonce)
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	// The replacement still works.
	got, err := store.Consume(ctx, second.ID, second.Nonce)
	require.NoError(t, err)
	assert.True(t, got.Consumed)
}

func TestIssueDistinctPurposesCoexist(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	reg, err := store.Issue(ctx, "user-1", PurposeRegistration)
	require.NoError(t, err)
	auth, err := store.Issue(ctx, "user-1", PurposeAuthentication)
	require.NoError(t, err)

	_, err = store.Consume(ctx, reg.ID, reg.Nonce)
	assert.NoError(t, err)
	_, err = store.Consume(ctx, auth.ID, auth.Nonce)
	assert.NoError(t, err)
}

func TestConsumeOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, err := store.Issue(ctx, "user-1", PurposeRegistration)
	require.NoError(t, err)

	got, err := store.Consume(ctx, ch.ID, ch.Nonce)
	require.NoError(t, err)
	assert.True(t, got.Consumed)

	_, err = store.Consume(ctx, ch.ID, ch.Nonce)
	assert.ErrorIs(t, err, ErrChallengeAlreadyConsumed)
}

func TestConsumeMismatchBurnsChallenge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, err := store.Issue(ctx, "user-1", PurposeAuthentication)
	require.NoError(t, err)

	wrong := make([]byte, NonceSize)
	_, err = store.Consume(ctx, ch.ID, wrong)
	assert.ErrorIs(t, err, ErrChallengeMismatch)

	// A retry with the correct nonce must not succeed.
	_, err = store.Consume(ctx, ch.ID, ch.Nonce)
	assert.ErrorIs(t, err, ErrChallengeAlreadyConsumed)
}

func TestConsumeExpired(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	store := NewMemoryStore(WithTTL(30*time.Second), WithClock(clock))
	ctx := context.Background()

	ch, err := store.Issue(ctx, "user-1", PurposeRegistration)
	require.NoError(t, err)

	mu.Lock()
	current = current.Add(31 * time.Second)
	mu.Unlock()

	_, err = store.Consume(ctx, ch.ID, ch.Nonce)
	assert.ErrorIs(t, err, ErrChallengeExpired)

	// Expired challenges are dropped on first touch.
	_, err = store.Consume(ctx, ch.ID, ch.Nonce)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestConsumeUnknown(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Consume(context.Background(), "no-such-id", nil)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestConsumeConcurrentSingleWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	ch, err := store.Issue(ctx, "user-1", PurposeAuthentication)
	require.NoError(t, err)

	const goroutines = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := store.Consume(ctx, ch.ID, ch.Nonce); err == nil {
				wins.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestCleanup(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	store := NewMemoryStore(WithTTL(time.Minute), WithClock(clock))
	ctx := context.Background()

	expired, err := store.Issue(ctx, "user-1", PurposeRegistration)
	require.NoError(t, err)
	consumed, err := store.Issue(ctx, "user-2", PurposeAuthentication)
	require.NoError(t, err)
	_, err = store.Consume(ctx, consumed.ID, consumed.Nonce)
	require.NoError(t, err)

	mu.Lock()
	current = current.Add(2 * time.Minute)
	mu.Unlock()

	live, err := store.Issue(ctx, "user-3", PurposeRegistration)
	require.NoError(t, err)

	removed, err := store.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, store.Len())

	_, err = store.Consume(ctx, expired.ID, expired.Nonce)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
	_, err = store.Consume(ctx, live.ID, live.Nonce)
	assert.NoError(t, err)
}

func TestContextDeadline(t *testing.T) {
	store := NewMemoryStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Issue(ctx, "user-1", PurposeRegistration)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Consume(ctx, "any", nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = store.Cleanup(ctx)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestErrorWrapping(t *testing.T) {
	err := wrapError("Consume", ErrChallengeExpired)
	require.Error(t, err)

	var chErr *Error
	require.ErrorAs(t, err, &chErr)
	assert.Equal(t, "Consume", chErr.Op)
	assert.ErrorIs(t, err, ErrChallengeExpired)
	assert.Contains(t, err.Error(), "challenge.Consume")
}
