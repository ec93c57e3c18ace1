package config

import "time"

// TwoFAConfig holds the second-factor settings
type TwoFAConfig struct {
	// Persistence selects the store backend: postgres or memory
	Persistence     string `env:"TWOFA_PERSISTENCE" env-default:"postgres"`
	Issuer          string `env:"TWOFA_ISSUER" env-default:"Sponge"`
	TOTPTolerance   int    `env:"TWOFA_TOTP_TOLERANCE" env-default:"1"`
	BackupCodeCount int    `env:"TWOFA_BACKUP_CODE_COUNT" env-default:"10"`
	SetupTokenTTL   string `env:"TWOFA_SETUP_TOKEN_TTL" env-default:"10m"`
	SessionTTL      string `env:"TWOFA_SESSION_TTL" env-default:"15m"`
	SessionCookie   string `env:"TWOFA_SESSION_COOKIE" env-default:"twofa_session"`
	// Code submissions allowed per verification session; 0 disables the limit
	VerifyBurst     int    `env:"TWOFA_VERIFY_BURST" env-default:"5"`
	VerifyPerMinute int    `env:"TWOFA_VERIFY_PER_MINUTE" env-default:"5"`
}

// ParseSetupTokenTTL parses how long a TOTP enrollment stays confirmable
func (t TwoFAConfig) ParseSetupTokenTTL() (time.Duration, error) {
	return parseDurationISO8601(t.SetupTokenTTL)
}

// ParseSessionTTL parses how long a pending verification session lives
func (t TwoFAConfig) ParseSessionTTL() (time.Duration, error) {
	return parseDurationISO8601(t.SessionTTL)
}

func (t TwoFAConfig) Validate() ValidationErrors {
	var errs ValidationErrors
	switch t.Persistence {
	case "postgres", "postgresql", "memory", "inmem":
	default:
		errs = append(errs, ValidationError{Field: "TWOFA_PERSISTENCE", Message: "must be postgres or memory"})
	}
	if t.Issuer == "" {
		errs = append(errs, ValidationError{Field: "TWOFA_ISSUER", Message: "must not be empty"})
	}
	if t.TOTPTolerance < 0 {
		errs = append(errs, ValidationError{Field: "TWOFA_TOTP_TOLERANCE", Message: "must not be negative"})
	}
	if t.BackupCodeCount < 1 {
		errs = append(errs, ValidationError{Field: "TWOFA_BACKUP_CODE_COUNT", Message: "must be at least 1"})
	}
	if d, err := t.ParseSetupTokenTTL(); err != nil || d <= 0 {
		errs = append(errs, ValidationError{Field: "TWOFA_SETUP_TOKEN_TTL", Message: "must be a positive duration"})
	}
	if d, err := t.ParseSessionTTL(); err != nil || d <= 0 {
		errs = append(errs, ValidationError{Field: "TWOFA_SESSION_TTL", Message: "must be a positive duration"})
	}
	if t.VerifyBurst < 0 || t.VerifyPerMinute < 0 {
		errs = append(errs, ValidationError{Field: "TWOFA_VERIFY_BURST", Message: "rate limits must not be negative"})
	}
	if t.SessionCookie == "" {
		errs = append(errs, ValidationError{Field: "TWOFA_SESSION_COOKIE", Message: "must not be empty"})
	}
	return errs
}
