package user

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewInMemDirectory()

	u, err := dir.CreateUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, u.ID)
	assert.False(t, u.TwoFAEnabled)

	t.Run("DuplicateUsername", func(t *testing.T) {
		_, err := dir.CreateUser(ctx, "bob")
		assert.Error(t, err)
	})

	t.Run("SetTwoFAEnabled", func(t *testing.T) {
		require.NoError(t, dir.SetTwoFAEnabled(ctx, u.ID, true))
		got, err := dir.GetUser(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.TwoFAEnabled)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := dir.GetUser(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, dir.SetTwoFAEnabled(ctx, uuid.New(), true), ErrUserNotFound)
	})
}
