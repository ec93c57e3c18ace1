package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-twofa/pkg/twofa"
)

const (
	TokenTypeAccess    = "access"
	TokenTypeTOTPSetup = "totp_setup"
)

type Jwt struct {
	Secret            string
	CookieHttpOnly    bool
	CookieSecure      bool
	CookieSameSite    http.SameSite
	Issuer            string
	Audience          string
	AccessTokenExpiry time.Duration
	SetupTokenExpiry  time.Duration
	now               func() time.Time
}

type Option func(*Jwt)

func WithCookieHttpOnly(httpOnly bool) Option {
	return func(jwt *Jwt) {
		jwt.CookieHttpOnly = httpOnly
	}
}

func WithCookieSecure(secure bool) Option {
	return func(jwt *Jwt) {
		jwt.CookieSecure = secure
	}
}

func WithCookieSameSite(sameSite http.SameSite) Option {
	return func(jwt *Jwt) {
		jwt.CookieSameSite = sameSite
	}
}

func WithIssuer(issuer string) Option {
	return func(jwt *Jwt) {
		jwt.Issuer = issuer
	}
}

func WithAudience(audience string) Option {
	return func(jwt *Jwt) {
		jwt.Audience = audience
	}
}

func WithAccessTokenExpiry(d time.Duration) Option {
	return func(jwt *Jwt) {
		jwt.AccessTokenExpiry = d
	}
}

// WithSetupTokenExpiry sets how long a TOTP enrollment can be confirmed.
func WithSetupTokenExpiry(d time.Duration) Option {
	return func(jwt *Jwt) {
		jwt.SetupTokenExpiry = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(jwt *Jwt) {
		jwt.now = now
	}
}

func NewJwtServiceOptions(secret string, opts ...Option) *Jwt {
	jwtSvc := &Jwt{
		Secret:            secret,
		CookieHttpOnly:    true,
		CookieSameSite:    http.SameSiteLaxMode,
		Issuer:            "simple-twofa",
		Audience:          "simple-twofa",
		AccessTokenExpiry: 5 * time.Minute,
		SetupTokenExpiry:  10 * time.Minute,
		now:               time.Now,
	}

	for _, opt := range opts {
		opt(jwtSvc)
	}

	return jwtSvc
}

// JWTAuth returns the verifier used by the jwtauth middleware.
func (j *Jwt) JWTAuth() *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(j.Secret), nil)
}

func (j *Jwt) CreateTokenStr(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(j.Secret))
	if err != nil {
		slog.Error("Failed sign JWT Claim string!", "err", err)
		return "", err
	}
	return ss, nil
}

type IdmToken struct {
	Token  string
	Expiry time.Time
}

// Claims are the claims of an access token.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

func (j *Jwt) registered(subject string, ttl time.Duration) jwt.RegisteredClaims {
	now := j.now().UTC()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-time.Minute * 5)),
		Issuer:    j.Issuer,
		Subject:   subject,
		ID:        uuid.New().String(),
		Audience:  []string{j.Audience},
	}
}

func (j *Jwt) CreateAccessToken(userID uuid.UUID) (IdmToken, error) {
	claims := Claims{
		TokenType:        TokenTypeAccess,
		RegisteredClaims: j.registered(userID.String(), j.AccessTokenExpiry),
	}
	accessToken, err := j.CreateTokenStr(claims)
	return IdmToken{Token: accessToken, Expiry: claims.ExpiresAt.Time}, err
}

func (j *Jwt) parse(tokenStr string, claims jwt.Claims) error {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
		jwt.WithIssuer(j.Issuer),
	}
	if j.Audience != "" {
		opts = append(opts, jwt.WithAudience(j.Audience))
	}
	_, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(j.Secret), nil
	}, opts...)
	return err
}

// ParseAccessToken validates an access token and returns its claims.
func (j *Jwt) ParseAccessToken(tokenStr string) (Claims, error) {
	var claims Claims
	if err := j.parse(tokenStr, &claims); err != nil {
		return Claims{}, fmt.Errorf("failed to parse access token: %w", err)
	}
	if claims.TokenType != TokenTypeAccess {
		return Claims{}, errors.New("not an access token")
	}
	return claims, nil
}

// FinalizeLogin issues the access token for a user who passed 2FA.
func (j *Jwt) FinalizeLogin(ctx context.Context, userID uuid.UUID) (twofa.LoginToken, error) {
	token, err := j.CreateAccessToken(userID)
	if err != nil {
		return twofa.LoginToken{}, fmt.Errorf("failed to create access token: %w", err)
	}
	slog.Info("Access token issued", "userID", userID, "expiry", token.Expiry)
	return twofa.LoginToken{AccessToken: token.Token, ExpiresAt: token.Expiry}, nil
}
