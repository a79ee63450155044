package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/heybooks/heybooks-sync/internal/auth"
	"github.com/heybooks/heybooks-sync/internal/domain"
)

func (s *Server) registerAuthRoutes() {
	limited := huma.Middlewares{s.rateLimitAuth}
	bearer := []map[string][]string{{"bearer": {}}}

	huma.Register(s.api, huma.Operation{
		OperationID: "createAccount",
		Method:      http.MethodPost,
		Path:        "/v1/auth/accounts",
		Summary:     "Create account",
		Description: "Creates an unverified account, signs it in and mails a verification token.",
		Tags:        []string{"Authentication"},
		Middlewares: limited,
	}, s.handleCreateAccount)

	huma.Register(s.api, huma.Operation{
		OperationID: "signIn",
		Method:      http.MethodPost,
		Path:        "/v1/auth/sessions",
		Summary:     "Sign in",
		Description: "Exchanges email and password for an access token.",
		Tags:        []string{"Authentication"},
		Middlewares: limited,
	}, s.handleSignIn)

	huma.Register(s.api, huma.Operation{
		OperationID: "signOut",
		Method:      http.MethodDelete,
		Path:        "/v1/auth/sessions",
		Summary:     "Sign out",
		Description: "Revokes the access token used for this request.",
		Tags:        []string{"Authentication"},
		Security:    bearer,
	}, s.handleSignOut)

	huma.Register(s.api, huma.Operation{
		OperationID: "currentIdentity",
		Method:      http.MethodGet,
		Path:        "/v1/auth/me",
		Summary:     "Current identity",
		Description: "Returns the freshly loaded identity behind the access token.",
		Tags:        []string{"Authentication"},
		Security:    bearer,
	}, s.handleCurrentIdentity)

	huma.Register(s.api, huma.Operation{
		OperationID: "sendVerification",
		Method:      http.MethodPost,
		Path:        "/v1/auth/verification",
		Summary:     "Send verification email",
		Tags:        []string{"Authentication"},
		Security:    bearer,
		Middlewares: limited,
	}, s.handleSendVerification)

	huma.Register(s.api, huma.Operation{
		OperationID: "confirmVerification",
		Method:      http.MethodPost,
		Path:        "/v1/auth/verification/confirm",
		Summary:     "Confirm email address",
		Tags:        []string{"Authentication"},
		Middlewares: limited,
	}, s.handleConfirmVerification)

	huma.Register(s.api, huma.Operation{
		OperationID: "requestPasswordReset",
		Method:      http.MethodPost,
		Path:        "/v1/auth/password-reset",
		Summary:     "Request password reset",
		Description: "Mails a reset token. Succeeds for unknown addresses too.",
		Tags:        []string{"Authentication"},
		Middlewares: limited,
	}, s.handleRequestPasswordReset)

	huma.Register(s.api, huma.Operation{
		OperationID: "confirmPasswordReset",
		Method:      http.MethodPost,
		Path:        "/v1/auth/password-reset/confirm",
		Summary:     "Set a new password",
		Tags:        []string{"Authentication"},
		Middlewares: limited,
	}, s.handleConfirmPasswordReset)
}

// === DTOs ===

// CreateAccountRequest is the request body for account creation.
type CreateAccountRequest struct {
	Name     string `json:"name" minLength:"1" maxLength:"100" doc:"Display name"`
	Email    string `json:"email" format:"email" maxLength:"254" doc:"Email address"`
	Password string `json:"password" minLength:"6" maxLength:"1024" doc:"Password"`
}

// CreateAccountInput wraps the account request for Huma.
type CreateAccountInput struct {
	Body CreateAccountRequest
}

// SignInRequest is the request body for sign-in.
type SignInRequest struct {
	Email    string `json:"email" maxLength:"254" doc:"Email address"`
	Password string `json:"password" maxLength:"1024" doc:"Password"`
}

// SignInInput wraps the sign-in request for Huma.
type SignInInput struct {
	Body SignInRequest
}

// GrantResponse is returned after sign-up and sign-in.
type GrantResponse struct {
	Identity    domain.Identity `json:"identity" doc:"Signed-in identity"`
	AccessToken string          `json:"accessToken" doc:"PASETO access token"`
	ExpiresAt   time.Time       `json:"expiresAt" doc:"Token expiry"`
}

// GrantOutput wraps the grant for Huma.
type GrantOutput struct {
	Body GrantResponse
}

// IdentityOutput wraps an identity for Huma.
type IdentityOutput struct {
	Body domain.Identity
}

// ConfirmTokenRequest carries a one-time token.
type ConfirmTokenRequest struct {
	Token string `json:"token" minLength:"1" doc:"One-time token from the email"`
}

// ConfirmTokenInput wraps the token for Huma.
type ConfirmTokenInput struct {
	Body ConfirmTokenRequest
}

// PasswordResetRequest is the forgot-password request body.
type PasswordResetRequest struct {
	Email string `json:"email" maxLength:"254" doc:"Email address"`
}

// PasswordResetInput wraps the reset request for Huma.
type PasswordResetInput struct {
	Body PasswordResetRequest
}

// NewPasswordRequest sets a new password with a reset token.
type NewPasswordRequest struct {
	Token    string `json:"token" minLength:"1" doc:"Reset token from the email"`
	Password string `json:"password" minLength:"6" maxLength:"1024" doc:"New password"`
}

// NewPasswordInput wraps the new password for Huma.
type NewPasswordInput struct {
	Body NewPasswordRequest
}

// MessageResponse contains a simple message.
type MessageResponse struct {
	Message string `json:"message" doc:"Success message"`
}

// MessageOutput wraps the message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Handlers ===

func (s *Server) handleCreateAccount(ctx context.Context, input *CreateAccountInput) (*GrantOutput, error) {
	grant, err := s.auth.Register(ctx, domain.Registration{
		Name:     input.Body.Name,
		Email:    input.Body.Email,
		Password: input.Body.Password,
	})
	if err != nil {
		return nil, err
	}
	return grantOutput(grant), nil
}

func (s *Server) handleSignIn(ctx context.Context, input *SignInInput) (*GrantOutput, error) {
	grant, err := s.auth.SignIn(ctx, domain.Credentials{
		Email:    input.Body.Email,
		Password: input.Body.Password,
	})
	if err != nil {
		return nil, err
	}
	return grantOutput(grant), nil
}

func (s *Server) handleSignOut(ctx context.Context, _ *struct{}) (*MessageOutput, error) {
	caller, err := GetCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.SignOut(ctx, caller.Claims); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Signed out"}}, nil
}

func (s *Server) handleCurrentIdentity(ctx context.Context, _ *struct{}) (*IdentityOutput, error) {
	caller, err := GetCaller(ctx)
	if err != nil {
		return nil, err
	}
	return &IdentityOutput{Body: caller.Account.Identity()}, nil
}

func (s *Server) handleSendVerification(ctx context.Context, _ *struct{}) (*MessageOutput, error) {
	caller, err := GetCaller(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.auth.SendVerification(ctx, caller.Account); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Verification email sent"}}, nil
}

func (s *Server) handleConfirmVerification(ctx context.Context, input *ConfirmTokenInput) (*IdentityOutput, error) {
	identity, err := s.auth.Verify(ctx, input.Body.Token)
	if err != nil {
		return nil, err
	}
	return &IdentityOutput{Body: identity}, nil
}

func (s *Server) handleRequestPasswordReset(ctx context.Context, input *PasswordResetInput) (*MessageOutput, error) {
	if err := s.auth.RequestPasswordReset(ctx, domain.PasswordReset{Email: input.Body.Email}); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "If the address is registered, a reset email is on its way"}}, nil
}

func (s *Server) handleConfirmPasswordReset(ctx context.Context, input *NewPasswordInput) (*MessageOutput, error) {
	if err := s.auth.ResetPassword(ctx, input.Body.Token, input.Body.Password); err != nil {
		return nil, err
	}
	return &MessageOutput{Body: MessageResponse{Message: "Password updated"}}, nil
}

// === Helpers ===

func grantOutput(g auth.Grant) *GrantOutput {
	return &GrantOutput{Body: GrantResponse{
		Identity:    g.Identity,
		AccessToken: g.AccessToken,
		ExpiresAt:   g.ExpiresAt,
	}}
}
