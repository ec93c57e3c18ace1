package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

func TestNewJwtServiceOptions(t *testing.T) {
	secret := "test-secret"
	jwtSvc := NewJwtServiceOptions(secret,
		WithCookieHttpOnly(true),
		WithCookieSecure(true),
		WithIssuer("sponge"),
		WithAccessTokenExpiry(time.Hour),
	)

	assert.Equal(t, secret, jwtSvc.Secret, "Secret should match")
	assert.True(t, jwtSvc.CookieHttpOnly, "CookieHttpOnly should be true")
	assert.True(t, jwtSvc.CookieSecure, "CookieSecure should be true")
	assert.Equal(t, "sponge", jwtSvc.Issuer)
	assert.Equal(t, time.Hour, jwtSvc.AccessTokenExpiry)
	assert.Equal(t, 10*time.Minute, jwtSvc.SetupTokenExpiry)
}

func TestCreateAccessToken(t *testing.T) {
	jwtSvc := NewJwtServiceOptions("test-secret")
	userID := uuid.New()

	token, err := jwtSvc.CreateAccessToken(userID)
	assert.NoError(t, err, "CreateAccessToken should not return an error")
	assert.NotEmpty(t, token.Token, "AccessToken should not be empty")
	assert.WithinDuration(t, time.Now().UTC().Add(5*time.Minute), token.Expiry, time.Second, "Token expiry should be 5 minutes from now")

	claims, err := jwtSvc.ParseAccessToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestParseAccessTokenWrongSecret(t *testing.T) {
	token, err := NewJwtServiceOptions("one").CreateAccessToken(uuid.New())
	require.NoError(t, err)

	_, err = NewJwtServiceOptions("two").ParseAccessToken(token.Token)
	assert.Error(t, err)
}

func TestParseAccessTokenIssuerAndAudience(t *testing.T) {
	jwtSvc := NewJwtServiceOptions("secret")

	token, err := NewJwtServiceOptions("secret", WithIssuer("elsewhere")).CreateAccessToken(uuid.New())
	require.NoError(t, err)
	_, err = jwtSvc.ParseAccessToken(token.Token)
	assert.Error(t, err)

	token, err = NewJwtServiceOptions("secret", WithAudience("another-app")).CreateAccessToken(uuid.New())
	require.NoError(t, err)
	_, err = jwtSvc.ParseAccessToken(token.Token)
	assert.Error(t, err)
}

func TestFinalizeLogin(t *testing.T) {
	jwtSvc := NewJwtServiceOptions("test-secret")
	userID := uuid.New()

	var finalizer twofa.LoginFinalizer = jwtSvc
	token, err := finalizer.FinalizeLogin(context.Background(), userID)
	require.NoError(t, err)
	assert.NotEmpty(t, token.AccessToken)

	claims, err := jwtSvc.ParseAccessToken(token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
}

func TestSetupToken(t *testing.T) {
	now := time.Now()
	jwtSvc := NewJwtServiceOptions("test-secret", WithClock(func() time.Time { return now }))
	userID := uuid.New()

	var signer twofa.SetupTokenSigner = jwtSvc
	token, err := signer.SignSetupToken(userID, "JBSWY3DPEHPK3PXP")
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		claims, err := signer.ParseSetupToken(token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, "JBSWY3DPEHPK3PXP", claims.Secret)
	})

	t.Run("Expired", func(t *testing.T) {
		later := NewJwtServiceOptions("test-secret", WithClock(func() time.Time { return now.Add(11 * time.Minute) }))
		_, err := later.ParseSetupToken(token)
		assert.True(t, errors.Is(err, twofa.ErrSetupTokenExpired), "expected expiry error, got %v", err)
	})

	t.Run("Tampered", func(t *testing.T) {
		_, err := signer.ParseSetupToken(token + "x")
		assert.Error(t, err)
		assert.False(t, errors.Is(err, twofa.ErrSetupTokenExpired))
	})

	t.Run("AccessTokenRejected", func(t *testing.T) {
		access, err := jwtSvc.CreateAccessToken(userID)
		require.NoError(t, err)
		_, err = signer.ParseSetupToken(access.Token)
		assert.Error(t, err)
	})

	t.Run("SetupTokenIsNotAccess", func(t *testing.T) {
		_, err := jwtSvc.ParseAccessToken(token)
		assert.Error(t, err)
	})
}

func TestJWTAuthVerifiesAccessToken(t *testing.T) {
	jwtSvc := NewJwtServiceOptions("test-secret")
	token, err := jwtSvc.CreateAccessToken(uuid.New())
	require.NoError(t, err)

	decoded, err := jwtSvc.JWTAuth().Decode(token.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, decoded.PrivateClaims()["token_type"])
}
