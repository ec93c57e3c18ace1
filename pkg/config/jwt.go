package config

import (
	"net/http"
	"time"

	"github.com/sosodev/duration"
)

// JWTConfig holds access token and cookie configuration
type JWTConfig struct {
	Secret            string `env:"JWT_SECRET" env-default:"very-secure-jwt-secret"`
	CookieHttpOnly    bool   `env:"COOKIE_HTTP_ONLY" env-default:"true"`
	CookieSecure      bool   `env:"COOKIE_SECURE" env-default:"true"`
	AccessTokenExpiry string `env:"ACCESS_TOKEN_EXPIRY" env-default:"5m"`
	Issuer            string `env:"JWT_ISSUER" env-default:"simple-twofa"`
	Audience          string `env:"JWT_AUDIENCE" env-default:"simple-twofa"`
}

// ParseAccessTokenExpiry parses the access token expiry duration
func (j JWTConfig) ParseAccessTokenExpiry() (time.Duration, error) {
	return parseDurationISO8601(j.AccessTokenExpiry)
}

// CookieSameSite returns the appropriate SameSite setting based on CookieSecure
func (j JWTConfig) CookieSameSite() http.SameSite {
	if j.CookieSecure {
		return http.SameSiteStrictMode
	}
	return http.SameSiteLaxMode
}

func (j JWTConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	if j.Secret == "" {
		errs = append(errs, ValidationError{Field: "JWT_SECRET", Message: "must not be empty"})
	}
	if d, err := j.ParseAccessTokenExpiry(); err != nil || d <= 0 {
		errs = append(errs, ValidationError{Field: "ACCESS_TOKEN_EXPIRY", Message: "must be a positive duration"})
	}
	return errs
}

// parseDurationISO8601 tries to parse duration as ISO8601 first, then Go duration
func parseDurationISO8601(s string) (time.Duration, error) {
	isoDuration, err := duration.Parse(s)
	if err == nil {
		return isoDuration.ToTimeDuration(), nil
	}
	return time.ParseDuration(s)
}
