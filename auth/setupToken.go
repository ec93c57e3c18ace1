package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

type setupClaims struct {
	TokenType string `json:"token_type"`
	Secret    string `json:"totp_secret"`
	jwt.RegisteredClaims
}

// SignSetupToken binds a pending TOTP secret to userID until SetupTokenExpiry.
func (j *Jwt) SignSetupToken(userID uuid.UUID, secret string) (string, error) {
	claims := setupClaims{
		TokenType:        TokenTypeTOTPSetup,
		Secret:           secret,
		RegisteredClaims: j.registered(userID.String(), j.SetupTokenExpiry),
	}
	return j.CreateTokenStr(claims)
}

// ParseSetupToken validates a token made by SignSetupToken. A token past its
// expiry yields twofa.ErrSetupTokenExpired.
func (j *Jwt) ParseSetupToken(tokenStr string) (twofa.SetupClaims, error) {
	var claims setupClaims
	if err := j.parse(tokenStr, &claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return twofa.SetupClaims{}, fmt.Errorf("%w: %v", twofa.ErrSetupTokenExpired, err)
		}
		return twofa.SetupClaims{}, fmt.Errorf("failed to parse setup token: %w", err)
	}
	if claims.TokenType != TokenTypeTOTPSetup {
		return twofa.SetupClaims{}, errors.New("not a totp setup token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return twofa.SetupClaims{}, fmt.Errorf("invalid setup token subject: %w", err)
	}
	return twofa.SetupClaims{UserID: userID, Secret: claims.Secret}, nil
}
