// Package user is the user directory consumed by the 2FA core: lookup by id,
// the username used as the TOTP account label, and the twofa_enabled flag.
package user

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound is returned when no user has the requested id.
var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	TwoFAEnabled bool      `json:"twofa_enabled"`
}

// Directory is the subset of user storage the 2FA service needs.
type Directory interface {
	CreateUser(ctx context.Context, username string) (User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)
	SetTwoFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}
