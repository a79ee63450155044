package auth

import (
	"time"

	"github.com/heybooks/heybooks-sync/internal/domain"
)

// Claims are carried inside an encrypted access token.
type Claims struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	TokenID   string    `json:"jti"`
	ExpiresAt time.Time `json:"exp"`
}

// Account is a stored identity.
type Account struct {
	ID            string
	Name          string
	Email         string
	PasswordHash  string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Identity returns the public view of the account.
func (a Account) Identity() domain.Identity {
	return domain.Identity{
		UserID:        a.ID,
		Email:         a.Email,
		DisplayName:   a.Name,
		EmailVerified: a.EmailVerified,
	}
}

// Purpose scopes a one-time token.
type Purpose string

const (
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposePasswordReset Purpose = "password_reset"
)

// Grant is the result of a successful sign-up or sign-in.
type Grant struct {
	Identity    domain.Identity `json:"identity"`
	AccessToken string          `json:"accessToken"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}
