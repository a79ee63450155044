package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/heybooks/heybooks-sync/internal/id"
)

const (
	tokenIssuer   = "heybooks-catalogd"
	tokenAudience = "heybooks-client"

	oneTimeTokenSize = 32
)

// TokenService issues and verifies PASETO v4.local access tokens.
type TokenService struct {
	key      paseto.V4SymmetricKey
	lifetime time.Duration
	now      func() time.Time
}

// NewTokenService creates a token service from a 32-byte key.
func NewTokenService(key []byte, lifetime time.Duration) (*TokenService, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d bytes, got %d", keyLength, len(key))
	}
	k, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}
	return &TokenService{key: k, lifetime: lifetime, now: time.Now}, nil
}

// Issue creates an access token for account.
func (s *TokenService) Issue(account Account) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.lifetime)

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetAudience(tokenAudience)
	token.SetSubject(account.ID)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(exp)

	jti, err := id.Generate(id.PrefixToken)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token ID: %w", err)
	}
	token.SetJti(jti)
	//nolint:errcheck // Set only fails for values that cannot be marshalled
	_ = token.Set("user_id", account.ID)
	//nolint:errcheck // Set only fails for values that cannot be marshalled
	_ = token.Set("email", account.Email)

	return token.V4Encrypt(s.key, nil), exp, nil
}

// Verify decrypts token and checks issuer, audience and validity window.
func (s *TokenService) Verify(token string) (Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.ValidAt(s.now()))

	parsed, err := parser.ParseV4Local(s.key, token, nil)
	if err != nil {
		return Claims{}, fmt.Errorf("invalid token: %w", err)
	}

	var claims Claims
	if err := json.Unmarshal(parsed.ClaimsJSON(), &claims); err != nil {
		return Claims{}, fmt.Errorf("parse claims: %w", err)
	}
	return claims, nil
}

// newOneTimeToken returns a random URL-safe token and the hash stored for it.
// Only the hash is persisted, so a leaked database cannot redeem tokens.
func newOneTimeToken() (token, hash string, err error) {
	b := make([]byte, oneTimeTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate one-time token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
