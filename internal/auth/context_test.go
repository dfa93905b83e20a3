// ABOUTME: Unit tests for authentication context functions
// ABOUTME: Tests AuthContext, IsAdmin, ActorID and context propagation helpers

package auth

import (
	"context"
	"testing"

	"github.com/2389/inbox-gateway/internal/store"
)

func TestAuthContext_IsAdmin(t *testing.T) {
	tests := []struct {
		name string
		role store.Role
		want bool
	}{
		{name: "admin role", role: store.RoleAdmin, want: true},
		{name: "agent role", role: store.RoleAgent, want: false},
		{name: "no role", role: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &AuthContext{UserID: 1, Role: tt.role}
			if got := auth.IsAdmin(); got != tt.want {
				t.Errorf("IsAdmin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromContext_Present(t *testing.T) {
	expected := &AuthContext{UserID: 7, Role: store.RoleAgent, TokenID: "jti-1"}

	ctx := WithAuth(context.Background(), expected)
	got := FromContext(ctx)

	if got == nil {
		t.Fatal("FromContext() = nil, want non-nil")
	}
	if got.UserID != expected.UserID {
		t.Errorf("UserID = %d, want %d", got.UserID, expected.UserID)
	}
	if got.TokenID != expected.TokenID {
		t.Errorf("TokenID = %q, want %q", got.TokenID, expected.TokenID)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if got := FromContext(context.Background()); got != nil {
		t.Errorf("FromContext() = %v, want nil", got)
	}
}

func TestMustFromContext_Missing(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustFromContext() did not panic when auth context missing")
		}
	}()

	MustFromContext(context.Background())
}

func TestActorID(t *testing.T) {
	if got := ActorID(context.Background()); got != nil {
		t.Errorf("ActorID() = %v, want nil for anonymous context", *got)
	}

	ctx := WithAuth(context.Background(), &AuthContext{UserID: 42})
	got := ActorID(ctx)
	if got == nil || *got != 42 {
		t.Errorf("ActorID() = %v, want 42", got)
	}
}
