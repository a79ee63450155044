// Package session holds the signed-in identity and runs the authentication flows.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/heybooks/heybooks-sync/internal/connectivity"
	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/i18n"
	"github.com/heybooks/heybooks-sync/internal/notify"
	"github.com/heybooks/heybooks-sync/internal/observable"
	"github.com/heybooks/heybooks-sync/internal/replica"
	"github.com/heybooks/heybooks-sync/internal/validation"
)

// DefaultTimeout bounds every authentication operation.
const DefaultTimeout = 10 * time.Second

// Credentials is what the identity provider hands back after sign-in.
type Credentials struct {
	Identity    domain.Identity `json:"identity"`
	AccessToken string          `json:"accessToken"`
}

// Provider is the identity provider boundary.
type Provider interface {
	CreateAccount(ctx context.Context, reg domain.Registration) (Credentials, error)
	SignIn(ctx context.Context, creds domain.Credentials) (Credentials, error)
	SendEmailVerification(ctx context.Context, accessToken string) error
	SendPasswordReset(ctx context.Context, email string) error
	Reload(ctx context.Context, accessToken string) (domain.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Options configures a Session.
type Options struct {
	Provider  Provider
	Replica   *replica.Client
	Gate      *connectivity.Gate
	Reporter  *notify.Reporter
	Validator *validation.Validator
	Logger    *slog.Logger
	Timeout   time.Duration
}

// Session is the explicitly constructed credential holder. Nothing about it is global.
type Session struct {
	provider  Provider
	replica   *replica.Client
	gate      *connectivity.Gate
	reporter  *notify.Reporter
	validator *validation.Validator
	logger    *slog.Logger
	timeout   time.Duration

	state *observable.Value[domain.LoadState]

	mu        sync.RWMutex
	creds     *Credentials
	teardowns []func()
}

// New creates a signed-out session.
func New(opts Options) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Validator == nil {
		opts.Validator = validation.New()
	}
	return &Session{
		provider:  opts.Provider,
		replica:   opts.Replica,
		gate:      opts.Gate,
		reporter:  opts.Reporter,
		validator: opts.Validator,
		logger:    opts.Logger,
		timeout:   opts.Timeout,
		state:     observable.New(domain.Idle),
	}
}

// Current returns the signed-in identity, if any.
func (s *Session) Current() (domain.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return domain.Identity{}, false
	}
	return s.creds.Identity, true
}

// RequireIdentity returns the signed-in identity or Unauthenticated.
func (s *Session) RequireIdentity() (domain.Identity, error) {
	identity, ok := s.Current()
	if !ok {
		return domain.Identity{}, domainerrors.ErrUnauthenticated
	}
	return identity, nil
}

// RequireVerified additionally requires a verified email address.
func (s *Session) RequireVerified() (domain.Identity, error) {
	identity, err := s.RequireIdentity()
	if err != nil {
		return domain.Identity{}, err
	}
	if !identity.EmailVerified {
		return domain.Identity{}, domainerrors.ErrEmailNotVerified
	}
	return identity, nil
}

// AccessToken returns the bearer token of the signed-in user, or "".
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return ""
	}
	return s.creds.AccessToken
}

// State returns the auth load state.
func (s *Session) State() domain.LoadState {
	return s.state.Get()
}

// Watch streams auth load state changes.
func (s *Session) Watch() (<-chan domain.LoadState, func()) {
	return s.state.Subscribe()
}

// OnSignOut registers fn to run after every sign-out.
func (s *Session) OnSignOut(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns = append(s.teardowns, fn)
}

// Register creates the account, its profile document, and sends the verification email.
func (s *Session) Register(ctx context.Context, reg domain.Registration) error {
	return s.run(ctx, "register", reg, func(ctx context.Context) error {
		creds, err := s.provider.CreateAccount(ctx, reg)
		if err != nil {
			return err
		}
		if err := s.setCredentials(ctx, creds); err != nil {
			return err
		}

		profile := domain.User{
			UserID:      creds.Identity.UserID,
			Name:        reg.Name,
			Email:       reg.Email,
			ListOfBooks: []domain.Book{},
		}
		if err := s.replica.Create(ctx, replica.ProfileAddress(creds.Identity), profile); err != nil {
			return err
		}
		if err := s.provider.SendEmailVerification(ctx, creds.AccessToken); err != nil {
			return err
		}
		s.reporter.Info(i18n.VerificationEmailSent)
		return nil
	})
}

// SignIn authenticates. An unverified account stays signed in but the call
// fails with EmailNotVerified so the caller does not proceed to the catalog.
func (s *Session) SignIn(ctx context.Context, creds domain.Credentials) error {
	return s.run(ctx, "sign in", creds, func(ctx context.Context) error {
		got, err := s.provider.SignIn(ctx, creds)
		if err != nil {
			return err
		}
		if err := s.setCredentials(ctx, got); err != nil {
			return err
		}
		if !got.Identity.EmailVerified {
			return domainerrors.ErrEmailNotVerified
		}
		s.reporter.Info(i18n.AuthenticationComplete)
		return nil
	})
}

// ResetPassword asks the provider to send a reset link.
func (s *Session) ResetPassword(ctx context.Context, req domain.PasswordReset) error {
	return s.run(ctx, "reset password", req, func(ctx context.Context) error {
		if err := s.provider.SendPasswordReset(ctx, req.Email); err != nil {
			return err
		}
		s.reporter.Info(i18n.EmailSent)
		return nil
	})
}

// ResendVerification refreshes the identity and re-sends the verification email if still needed.
func (s *Session) ResendVerification(ctx context.Context) error {
	if _, err := s.RequireIdentity(); err != nil {
		s.reporter.Error(err)
		return err
	}
	return s.run(ctx, "resend verification", nil, func(ctx context.Context) error {
		token := s.AccessToken()
		identity, err := s.provider.Reload(ctx, token)
		if err != nil {
			return err
		}
		s.setIdentity(identity)
		if identity.EmailVerified {
			s.reporter.Info(i18n.EmailAlreadyVerified)
			return nil
		}
		if err := s.provider.SendEmailVerification(ctx, token); err != nil {
			return err
		}
		s.reporter.Info(i18n.VerificationEmailSent)
		return nil
	})
}

// Reload refreshes the identity, picking up a verification done elsewhere.
func (s *Session) Reload(ctx context.Context) (domain.Identity, error) {
	if _, err := s.RequireIdentity(); err != nil {
		return domain.Identity{}, err
	}
	err := s.run(ctx, "reload", nil, func(ctx context.Context) error {
		identity, err := s.provider.Reload(ctx, s.AccessToken())
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setIdentity(identity)
		return nil
	})
	if err != nil {
		return domain.Identity{}, err
	}
	return s.RequireIdentity()
}

// SignOut drops the credentials and runs every teardown hook, even if the
// provider call fails.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	creds := s.creds
	s.creds = nil
	hooks := append([]func(){}, s.teardowns...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	s.state.Set(domain.Idle)

	if creds == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.provider.SignOut(ctx, creds.AccessToken); err != nil {
		s.logger.Warn("provider sign-out failed", "error", err)
		return err
	}
	s.logger.Info("signed out", "user_id", creds.Identity.UserID)
	return nil
}

// run applies the common protocol: connectivity gate, input validation, Loading,
// then op bounded by the timeout. Exceeding the bound reports TimedOut once and
// leaves the state at Error.
func (s *Session) run(ctx context.Context, name string, input any, op func(context.Context) error) error {
	if err := s.gate.Require(ctx); err != nil {
		return err
	}
	if input != nil {
		if err := s.validator.Validate(input); err != nil {
			s.reporter.Error(err)
			return err
		}
	}

	s.state.Set(domain.Loading)
	err := s.withTimeout(ctx, op)
	if err != nil {
		s.state.Set(domain.Error)
		s.logger.Info("auth operation failed", "operation", name, "error", err)
		s.reporter.Error(err)
		return err
	}
	s.state.Set(domain.Loaded)
	s.logger.Debug("auth operation complete", "operation", name)
	return nil
}

// withTimeout runs op on its own goroutine so a provider that ignores ctx still
// cannot hold the caller past the bound.
func (s *Session) withTimeout(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op(ctx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return domainerrors.TimedOutf("no answer within %s", s.timeout)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domainerrors.TimedOutf("no answer within %s", s.timeout)
		}
		return ctx.Err()
	}
}

// setCredentials refuses answers that arrive after the operation already timed out.
func (s *Session) setCredentials(ctx context.Context, c Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &c
	return nil
}

func (s *Session) setIdentity(identity domain.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds != nil {
		s.creds.Identity = identity
	}
}
