package twofa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	errs "github.com/tendant/simple-twofa/pkg/errors"
	"github.com/tendant/simple-twofa/pkg/user"
)

const (
	DefaultIssuer          = "Sponge"
	DefaultTOTPTolerance   = 1
	DefaultBackupCodeCount = 10
)

// LoginToken is what the login layer hands back once a login is finalized.
type LoginToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// LoginFinalizer completes a login after the second factor has been verified.
type LoginFinalizer interface {
	FinalizeLogin(ctx context.Context, userID uuid.UUID) (LoginToken, error)
}

// LoginFinalizerFunc adapts a function to LoginFinalizer.
type LoginFinalizerFunc func(ctx context.Context, userID uuid.UUID) (LoginToken, error)

func (f LoginFinalizerFunc) FinalizeLogin(ctx context.Context, userID uuid.UUID) (LoginToken, error) {
	return f(ctx, userID)
}

// ErrSetupTokenExpired is returned by a SetupTokenSigner for a token that was
// valid but is past its expiry.
var ErrSetupTokenExpired = errors.New("setup token expired")

// SetupClaims is the state carried between the two TOTP enrollment steps.
type SetupClaims struct {
	UserID uuid.UUID
	Secret string
}

// SetupTokenSigner binds a pending TOTP secret to a user for a short time.
type SetupTokenSigner interface {
	SignSetupToken(userID uuid.UUID, secret string) (string, error)
	ParseSetupToken(token string) (SetupClaims, error)
}

// Service is the second-factor engine: device selection, verification
// sessions, backup codes, enrollment and removal.
type Service struct {
	devices     DeviceRepository
	sessions    SessionStore
	users       user.Directory
	finalizer   LoginFinalizer
	setupTokens SetupTokenSigner

	issuer          string
	totpTolerance   int
	backupCodeCount int
	now             func() time.Time
	newCode         func() (string, error)
}

type Option func(*Service)

func WithLoginFinalizer(f LoginFinalizer) Option {
	return func(s *Service) {
		s.finalizer = f
	}
}

func WithSetupTokenSigner(signer SetupTokenSigner) Option {
	return func(s *Service) {
		s.setupTokens = signer
	}
}

// WithIssuer sets the issuer shown by authenticator apps.
func WithIssuer(issuer string) Option {
	return func(s *Service) {
		s.issuer = issuer
	}
}

// WithTOTPTolerance sets how many steps either side of the expected one are
// accepted.
func WithTOTPTolerance(tolerance int) Option {
	return func(s *Service) {
		s.totpTolerance = tolerance
	}
}

func WithBackupCodeCount(n int) Option {
	return func(s *Service) {
		s.backupCodeCount = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(devices DeviceRepository, sessions SessionStore, users user.Directory, opts ...Option) *Service {
	s := &Service{
		devices:         devices,
		sessions:        sessions,
		users:           users,
		issuer:          DefaultIssuer,
		totpTolerance:   DefaultTOTPTolerance,
		backupCodeCount: DefaultBackupCodeCount,
		now:             time.Now,
		newCode:         NewPaperCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) getUser(ctx context.Context, userID uuid.UUID) (user.User, error) {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return user.User{}, errs.NotFound("user")
		}
		return user.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}
