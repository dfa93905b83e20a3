// ABOUTME: Authentication context for tracking the signed-in agent through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
	"time"

	"github.com/2389/inbox-gateway/internal/store"
)

// AuthContext holds the authenticated identity extracted from a request.
// It is populated by HTTPAuthMiddleware and read by handlers and services.
type AuthContext struct {
	UserID    int64
	Role      store.Role
	TokenID   string    // jti, used for revocation
	ExpiresAt time.Time // token expiry
}

// IsAdmin returns true if the user has the admin role.
func (a *AuthContext) IsAdmin() bool {
	return a.Role == store.RoleAdmin
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}

// ActorID returns the acting user's id, or nil for unauthenticated
// contexts such as webhooks.
func ActorID(ctx context.Context) *int64 {
	if a := FromContext(ctx); a != nil {
		id := a.UserID
		return &id
	}
	return nil
}
