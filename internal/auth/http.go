// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Accepts a bearer header, or a token query parameter for websocket and SSE clients

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/inbox-gateway/internal/store"
)

// UserLookup resolves the user a token was issued to.
type UserLookup interface {
	GetUser(ctx context.Context, id int64) (*store.User, error)
}

// extractToken pulls the token from the Authorization header, falling
// back to the "token" query parameter. Returns the token and an error
// message (empty if successful).
func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, ""
		}
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Authenticate verifies the request's token and loads its user.
func Authenticate(r *http.Request, users UserLookup, verifier TokenVerifier) (*AuthContext, int, string) {
	token, errMsg := extractToken(r)
	if errMsg != "" {
		return nil, http.StatusUnauthorized, errMsg
	}

	claims, err := verifier.Verify(token)
	switch {
	case errors.Is(err, ErrExpiredToken):
		return nil, http.StatusUnauthorized, "token expired"
	case errors.Is(err, ErrRevokedToken):
		return nil, http.StatusUnauthorized, "token revoked"
	case err != nil:
		return nil, http.StatusUnauthorized, "invalid token"
	}

	user, err := users.GetUser(r.Context(), claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusUnauthorized, "user not found"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, "failed to load user"
	}
	if !user.IsActive {
		return nil, http.StatusForbidden, "user is inactive"
	}

	return &AuthContext{
		UserID:    user.ID,
		Role:      user.Role,
		TokenID:   claims.TokenID,
		ExpiresAt: claims.ExpiresAt,
	}, http.StatusOK, ""
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens and adds AuthContext to the request context. Pass nil logger
// for default.
func HTTPAuthMiddleware(users UserLookup, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, status, errMsg := Authenticate(r, users, verifier)
			if authCtx == nil {
				logger.Debug("request rejected", "path", r.URL.Path, "status", status, "reason", errMsg)
				writeAuthError(w, status, errMsg)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that requires the admin role.
// Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				writeAuthError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if !authCtx.IsAdmin() {
				writeAuthError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
