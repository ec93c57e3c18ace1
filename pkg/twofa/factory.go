package twofa

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating 2FA stores
type RepositoryConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// SessionTTL bounds the lifetime of pending verification sessions
	SessionTTL time.Duration
}

// NewDeviceRepository creates a device repository based on the persistence type
func NewDeviceRepository(persistenceType string, config RepositoryConfig) (DeviceRepository, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		return NewPostgresDeviceRepository(config.Pool)
	case "memory", "inmem":
		return NewInMemDeviceRepository(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, memory)", persistenceType)
	}
}

// NewSessionStore creates a verification session store based on the persistence type
func NewSessionStore(persistenceType string, config RepositoryConfig) (SessionStore, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres session store")
		}
		return NewPostgresSessionStore(config.Pool, config.SessionTTL), nil
	case "memory", "inmem":
		return NewInMemSessionStore(config.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, memory)", persistenceType)
	}
}
