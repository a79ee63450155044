package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/heybooks/heybooks-sync/internal/auth"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
)

// ctxKey is the type for context keys to avoid collisions.
type ctxKey string

// callerKey is the context key for the authenticated caller.
const callerKey ctxKey = "caller"

// Caller is the authenticated principal of a request.
type Caller struct {
	Claims  auth.Claims
	Account auth.Account
}

// GetCaller returns the authenticated caller from context.
// Returns an Unauthenticated error if the request carried no valid token.
func GetCaller(ctx context.Context) (*Caller, error) {
	caller, ok := ctx.Value(callerKey).(*Caller)
	if !ok || caller == nil {
		return nil, domainerrors.Unauthenticated("Authentication required")
	}
	return caller, nil
}

func setCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// authMiddleware returns a middleware that validates Bearer tokens and stores the caller in context.
// If no token is present or invalid, continues without caller in context.
// Handlers use GetCaller to check authentication.
func authMiddleware(svc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, account, err := svc.Authenticate(r.Context(), token)
			if err != nil {
				// Invalid token - continue without caller (handler will reject if auth required)
				next.ServeHTTP(w, r)
				return
			}

			ctx := setCaller(r.Context(), &Caller{Claims: claims, Account: account})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}
