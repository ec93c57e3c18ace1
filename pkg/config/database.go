package config

import (
	"net"
	"net/url"
	"strconv"
)

// DatabaseConfig holds the PostgreSQL settings. The IDM_PG_* names are shared
// with the identity service so both can point at one database.
type DatabaseConfig struct {
	Host     string `env:"IDM_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"IDM_PG_PORT" env-default:"5432"`
	Database string `env:"IDM_PG_DATABASE" env-default:"twofa_db"`
	User     string `env:"IDM_PG_USER" env-default:"twofa"`
	Password string `env:"IDM_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"IDM_PG_SCHEMA" env-default:"public"`
}

// ToDatabaseURL returns a postgres:// URL accepted by pgx and golang-migrate.
func (d DatabaseConfig) ToDatabaseURL() string {
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("search_path", d.Schema+",public")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(int(d.Port))),
		Path:     "/" + d.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func (d DatabaseConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	if d.Host == "" {
		errs = append(errs, ValidationError{Field: "IDM_PG_HOST", Message: "must not be empty"})
	}
	if d.Database == "" {
		errs = append(errs, ValidationError{Field: "IDM_PG_DATABASE", Message: "must not be empty"})
	}
	return errs
}
