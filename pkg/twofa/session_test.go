package twofa

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemSessionStore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemSessionStore(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	userID := uuid.New()
	require.NoError(t, store.Put(ctx, "k", VerificationSession{TargetUserID: userID}))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, userID, got.TargetUserID)

	taken, err := store.Take(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, userID, taken.TargetUserID)

	_, err = store.Take(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	t.Run("Expiry", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "e", VerificationSession{TargetUserID: userID}))
		now = now.Add(time.Minute)
		_, err := store.Get(ctx, "e")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("DefaultTTL", func(t *testing.T) {
		assert.Equal(t, DefaultSessionTTL, NewInMemSessionStore(0).ttl)
	})
}

func TestNewSessionKey(t *testing.T) {
	a, err := NewSessionKey()
	require.NoError(t, err)
	b, err := NewSessionKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
}
