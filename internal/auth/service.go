package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/id"
	"github.com/heybooks/heybooks-sync/internal/validation"
)

// Lifetimes of one-time tokens.
const (
	VerificationTTL  = 72 * time.Hour
	PasswordResetTTL = time.Hour
)

// Service implements the identity provider operations.
type Service struct {
	accounts  *AccountStore
	tokens    *TokenService
	hasher    *Hasher
	mailer    Mailer
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the identity provider.
func NewService(accounts *AccountStore, tokens *TokenService, hasher *Hasher, mailer Mailer, logger *slog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		tokens:    tokens,
		hasher:    hasher,
		mailer:    mailer,
		validator: validation.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Register creates an unverified account, signs it in and mails a
// verification token.
func (s *Service) Register(ctx context.Context, reg domain.Registration) (Grant, error) {
	if err := s.validator.Validate(reg); err != nil {
		return Grant{}, err
	}

	hash, err := s.hasher.Hash(reg.Password)
	if err != nil {
		return Grant{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "hash password")
	}
	accountID, err := id.Generate(id.PrefixUser)
	if err != nil {
		return Grant{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate account id")
	}

	now := s.now()
	account := Account{
		ID:           accountID,
		Name:         strings.TrimSpace(reg.Name),
		Email:        strings.TrimSpace(reg.Email),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return Grant{}, err
	}
	s.logger.Info("account registered", "user_id", account.ID)

	if err := s.mail(ctx, account, PurposeVerifyEmail, VerificationTTL); err != nil {
		s.logger.Warn("verification mail not sent", "user_id", account.ID, "error", err)
	}
	return s.grant(account)
}

// SignIn checks the password. Unknown emails and wrong passwords fail the same way.
func (s *Service) SignIn(ctx context.Context, creds domain.Credentials) (Grant, error) {
	if err := s.validator.Validate(creds); err != nil {
		return Grant{}, err
	}

	account, err := s.accounts.ByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return Grant{}, domainerrors.InvalidCredentials("wrong email or password")
		}
		return Grant{}, err
	}
	if !s.hasher.Verify(account.PasswordHash, creds.Password) {
		s.logger.Info("sign-in rejected", "user_id", account.ID)
		return Grant{}, domainerrors.InvalidCredentials("wrong email or password")
	}
	return s.grant(account)
}

// Authenticate resolves an access token to its claims and current account.
func (s *Service) Authenticate(ctx context.Context, token string) (Claims, Account, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Claims{}, Account{}, domainerrors.Unauthenticated("invalid or expired token")
	}
	revoked, err := s.accounts.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return Claims{}, Account{}, err
	}
	if revoked {
		return Claims{}, Account{}, domainerrors.Unauthenticated("token was revoked")
	}
	account, err := s.accounts.ByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return Claims{}, Account{}, domainerrors.Unauthenticated("account no longer exists")
		}
		return Claims{}, Account{}, err
	}
	return claims, account, nil
}

// SignOut revokes the access token.
func (s *Service) SignOut(ctx context.Context, claims Claims) error {
	if err := s.accounts.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return err
	}
	s.logger.Info("signed out", "user_id", claims.UserID)
	return nil
}

// SendVerification mails a fresh verification token. Verified accounts get nothing.
func (s *Service) SendVerification(ctx context.Context, account Account) error {
	if account.EmailVerified {
		return nil
	}
	return s.mail(ctx, account, PurposeVerifyEmail, VerificationTTL)
}

// Verify redeems a verification token.
func (s *Service) Verify(ctx context.Context, token string) (domain.Identity, error) {
	accountID, err := s.accounts.ConsumeToken(ctx, hashToken(token), PurposeVerifyEmail, s.now())
	if err != nil {
		return domain.Identity{}, err
	}
	if err := s.accounts.MarkVerified(ctx, accountID, s.now()); err != nil {
		return domain.Identity{}, err
	}
	account, err := s.accounts.ByID(ctx, accountID)
	if err != nil {
		return domain.Identity{}, err
	}
	s.logger.Info("email verified", "user_id", accountID)
	return account.Identity(), nil
}

// RequestPasswordReset mails a reset token. Unknown emails succeed silently
// so the endpoint cannot be used to probe for accounts.
func (s *Service) RequestPasswordReset(ctx context.Context, req domain.PasswordReset) error {
	if err := s.validator.Validate(req); err != nil {
		return err
	}
	account, err := s.accounts.ByEmail(ctx, req.Email)
	if errors.Is(err, domainerrors.ErrNotFound) {
		s.logger.Debug("password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	return s.mail(ctx, account, PurposePasswordReset, PasswordResetTTL)
}

// ResetPassword redeems a reset token and sets a new password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	if len(password) < 6 {
		return domainerrors.Validation("password must be at least 6 characters")
	}
	accountID, err := s.accounts.ConsumeToken(ctx, hashToken(token), PurposePasswordReset, s.now())
	if err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return domainerrors.Validation(err.Error())
	}
	if err := s.accounts.SetPasswordHash(ctx, accountID, hash, s.now()); err != nil {
		return err
	}
	s.logger.Info("password reset", "user_id", accountID)
	return nil
}

func (s *Service) grant(account Account) (Grant, error) {
	token, exp, err := s.tokens.Issue(account)
	if err != nil {
		return Grant{}, domainerrors.Wrap(err, domainerrors.CodeInternal, "issue access token")
	}
	return Grant{Identity: account.Identity(), AccessToken: token, ExpiresAt: exp}, nil
}

func (s *Service) mail(ctx context.Context, account Account, purpose Purpose, ttl time.Duration) error {
	token, hash, err := newOneTimeToken()
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "create token")
	}
	if err := s.accounts.PutToken(ctx, hash, account.ID, purpose, s.now().Add(ttl)); err != nil {
		return err
	}
	return s.mailer.Send(ctx, Mail{To: account.Email, Purpose: purpose, Token: token})
}
