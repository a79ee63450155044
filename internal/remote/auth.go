package remote

import (
	"context"
	"net/http"
	"time"

	"github.com/heybooks/heybooks-sync/internal/domain"
	"github.com/heybooks/heybooks-sync/internal/session"
)

const familyAuth = "auth"

// grant is the sign-up and sign-in answer.
type grant struct {
	Identity    domain.Identity `json:"identity"`
	AccessToken string          `json:"accessToken"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

func (g grant) credentials() session.Credentials {
	return session.Credentials{Identity: g.Identity, AccessToken: g.AccessToken}
}

// AuthClient is the identity provider over the auth API.
type AuthClient struct {
	client *Client
}

var _ session.Provider = (*AuthClient)(nil)

// NewAuthClient creates an identity provider on client.
func NewAuthClient(client *Client) *AuthClient {
	return &AuthClient{client: client}
}

// CreateAccount registers a new account and signs it in.
func (a *AuthClient) CreateAccount(ctx context.Context, reg domain.Registration) (session.Credentials, error) {
	var g grant
	err := a.client.doJSON(ctx, request{method: http.MethodPost, path: "/v1/auth/accounts", family: familyAuth}, reg, &g)
	return g.credentials(), err
}

// SignIn exchanges email and password for a bearer token.
func (a *AuthClient) SignIn(ctx context.Context, creds domain.Credentials) (session.Credentials, error) {
	var g grant
	err := a.client.doJSON(ctx, request{method: http.MethodPost, path: "/v1/auth/sessions", family: familyAuth}, creds, &g)
	return g.credentials(), err
}

// SendEmailVerification mails a fresh verification link to the token's account.
func (a *AuthClient) SendEmailVerification(ctx context.Context, accessToken string) error {
	return a.client.do(ctx, request{method: http.MethodPost, path: "/v1/auth/verification", token: accessToken, family: familyAuth}, nil)
}

// ConfirmVerification redeems a verification token.
func (a *AuthClient) ConfirmVerification(ctx context.Context, token string) (domain.Identity, error) {
	var identity domain.Identity
	body := map[string]string{"token": token}
	err := a.client.doJSON(ctx, request{method: http.MethodPost, path: "/v1/auth/verification/confirm", family: familyAuth}, body, &identity)
	return identity, err
}

// SendPasswordReset mails a reset link. Unknown addresses succeed too.
func (a *AuthClient) SendPasswordReset(ctx context.Context, email string) error {
	body := domain.PasswordReset{Email: email}
	return a.client.doJSON(ctx, request{method: http.MethodPost, path: "/v1/auth/password-reset", family: familyAuth}, body, nil)
}

// ConfirmPasswordReset redeems a reset token with a new password.
func (a *AuthClient) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	body := map[string]string{"token": token, "password": password}
	return a.client.doJSON(ctx, request{method: http.MethodPost, path: "/v1/auth/password-reset/confirm", family: familyAuth}, body, nil)
}

// Reload fetches the current identity of the token's account.
func (a *AuthClient) Reload(ctx context.Context, accessToken string) (domain.Identity, error) {
	var identity domain.Identity
	err := a.client.do(ctx, request{method: http.MethodGet, path: "/v1/auth/me", token: accessToken, family: familyAuth}, &identity)
	return identity, err
}

// SignOut revokes the token.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	return a.client.do(ctx, request{method: http.MethodDelete, path: "/v1/auth/sessions", token: accessToken, family: familyAuth}, nil)
}
