// ABOUTME: Unit tests for JWT token verification, generation and revocation
// ABOUTME: Tests valid, invalid, expired and revoked tokens

package auth

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("token-test-secret-at-least-32-b!")

func newTestVerifier(t *testing.T, revoked *Revocations) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret, revoked)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("too-short"), nil)
	if !errors.Is(err, ErrSecretTooShort) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrSecretTooShort", err)
	}
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	verifier := newTestVerifier(t, nil)

	token, issued, err := verifier.Generate(123, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if token == "" {
		t.Fatal("Generate() returned empty token")
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.UserID != 123 {
		t.Errorf("UserID = %d, want 123", claims.UserID)
	}
	if claims.TokenID != issued.TokenID || claims.TokenID == "" {
		t.Errorf("TokenID = %q, want %q", claims.TokenID, issued.TokenID)
	}
	if d := claims.ExpiresAt.Sub(issued.ExpiresAt); d > time.Second || d < -time.Second {
		t.Errorf("ExpiresAt = %v, want about %v", claims.ExpiresAt, issued.ExpiresAt)
	}
}

func TestJWTVerifier_UniqueTokenIDs(t *testing.T) {
	verifier := newTestVerifier(t, nil)

	_, a, err := verifier.Generate(1, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	_, b, err := verifier.Generate(1, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if a.TokenID == b.TokenID {
		t.Error("two tokens share a jti")
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newTestVerifier(t, nil)

	other, err := NewJWTVerifier([]byte("a-completely-different-secret-32"), nil)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	wrongSecret, _, _ := other.Generate(1, time.Hour)

	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "1", ID: "jti",
	}).SignedString(testSecret)
	badSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "alice", ID: "jti", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	noJTI, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: "1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{
		Subject: "1", ID: "jti", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "empty token", token: "", wantErr: ErrInvalidToken},
		{name: "garbage token", token: "not-a-jwt-token", wantErr: ErrInvalidToken},
		{name: "malformed JWT", token: "header.payload.signature", wantErr: ErrInvalidToken},
		{name: "wrong secret", token: wrongSecret, wantErr: ErrInvalidToken},
		{name: "no expiry", token: noExpiry, wantErr: ErrInvalidToken},
		{name: "non-numeric subject", token: badSubject, wantErr: ErrInvalidToken},
		{name: "missing jti", token: noJTI, wantErr: ErrMissingClaim},
		{name: "other algorithm", token: hs512, wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newTestVerifier(t, nil)

	token, _, err := verifier.Generate(1, -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_Revoke(t *testing.T) {
	revoked := NewRevocations()
	t.Cleanup(revoked.Close)
	verifier := newTestVerifier(t, revoked)

	token, claims, err := verifier.Generate(1, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	keep, _, err := verifier.Generate(1, time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	verifier.Revoke(claims.TokenID, claims.ExpiresAt)

	if _, err := verifier.Verify(token); !errors.Is(err, ErrRevokedToken) {
		t.Errorf("Verify(revoked) error = %v, want ErrRevokedToken", err)
	}
	if _, err := verifier.Verify(keep); err != nil {
		t.Errorf("Verify(other token) error = %v, want nil", err)
	}
	if revoked.Len() != 1 {
		t.Errorf("Len() = %d, want 1", revoked.Len())
	}
}

func TestRevocations_PastExpiryIgnored(t *testing.T) {
	revoked := NewRevocations()
	t.Cleanup(revoked.Close)

	revoked.Revoke("old", time.Now().Add(-time.Minute))
	if revoked.IsRevoked("old") {
		t.Error("already-expired token should not be tracked")
	}

	revoked.Revoke("no-expiry", time.Time{})
	if !revoked.IsRevoked("no-expiry") {
		t.Error("revocation without expiry should use the fallback TTL")
	}
}

func TestRevocations_SurviveHeavyLogoutVolume(t *testing.T) {
	revoked := NewRevocations()
	t.Cleanup(revoked.Close)

	expires := time.Now().Add(time.Hour)
	revoked.Revoke("first", expires)
	for i := range 150_000 {
		revoked.Revoke("tok-"+strconv.Itoa(i), expires)
	}

	if !revoked.IsRevoked("first") {
		t.Error("earliest revocation must stay revoked until its token expires")
	}
	if got := revoked.Len(); got != 150_001 {
		t.Errorf("Len() = %d, want 150001", got)
	}
}
