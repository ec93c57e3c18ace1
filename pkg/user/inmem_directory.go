package user

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// InMemDirectory implements Directory using an in-memory map
type InMemDirectory struct {
	users map[uuid.UUID]User
	mu    sync.RWMutex
}

// NewInMemDirectory creates a new in-memory user directory
func NewInMemDirectory() *InMemDirectory {
	return &InMemDirectory{
		users: make(map[uuid.UUID]User),
	}
}

func (d *InMemDirectory) CreateUser(ctx context.Context, username string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if u.Username == username {
			return User{}, fmt.Errorf("user already exists: %s", username)
		}
	}

	u := User{ID: uuid.New(), Username: username}
	d.users[u.ID] = u
	slog.Debug("User created", "userID", u.ID, "username", username)
	return u, nil
}

func (d *InMemDirectory) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (d *InMemDirectory) SetTwoFAEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.TwoFAEnabled = enabled
	d.users[id] = u
	slog.Info("Updated twofa_enabled", "userID", id, "enabled", enabled)
	return nil
}
