package twofa

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned when no live verification session exists
// for a key.
var ErrSessionNotFound = errors.New("verification session not found")

// DefaultSessionTTL bounds how long a pending verification may live in a store.
const DefaultSessionTTL = 15 * time.Minute

// VerificationSession binds a password-authenticated login attempt to the
// user that still has to present a second factor.
type VerificationSession struct {
	TargetUserID uuid.UUID
}

// SessionStore holds pending verification sessions keyed by an opaque value
// such as a cookie.
type SessionStore interface {
	Put(ctx context.Context, key string, sess VerificationSession) error
	Get(ctx context.Context, key string) (VerificationSession, error)
	// Take returns and removes the session. Of two concurrent callers only one
	// succeeds; the other gets ErrSessionNotFound.
	Take(ctx context.Context, key string) (VerificationSession, error)
}

// NewSessionKey returns a random URL-safe session key.
func NewSessionKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type inMemSession struct {
	sess      VerificationSession
	expiresAt time.Time
}

// InMemSessionStore implements SessionStore with a map.
type InMemSessionStore struct {
	mu       sync.Mutex
	sessions map[string]inMemSession
	ttl      time.Duration
	now      func() time.Time
}

// NewInMemSessionStore creates a session store whose entries expire after ttl.
// A non-positive ttl uses DefaultSessionTTL.
func NewInMemSessionStore(ttl time.Duration) *InMemSessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &InMemSessionStore{
		sessions: make(map[string]inMemSession),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *InMemSessionStore) Put(ctx context.Context, key string, sess VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[key] = inMemSession{sess: sess, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemSessionStore) Get(ctx context.Context, key string) (VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		return VerificationSession{}, ErrSessionNotFound
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.sessions, key)
		return VerificationSession{}, ErrSessionNotFound
	}
	return entry.sess, nil
}

func (s *InMemSessionStore) Take(ctx context.Context, key string) (VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		return VerificationSession{}, ErrSessionNotFound
	}
	delete(s.sessions, key)
	if !s.now().Before(entry.expiresAt) {
		return VerificationSession{}, ErrSessionNotFound
	}
	return entry.sess, nil
}
