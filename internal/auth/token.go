// ABOUTME: JWT bearer tokens for agents using the inbox API and live channels
// ABOUTME: HS256 signed; sub is the user id and jti identifies the token for revocation

package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrRevokedToken   = errors.New("token revoked")
	ErrMissingClaim   = errors.New("missing required claim")
	ErrSecretTooShort = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)
)

// Claims is what a verified token says about its bearer.
type Claims struct {
	UserID    int64
	TokenID   string
	ExpiresAt time.Time
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret  []byte
	revoked *Revocations
	now     func() time.Time
}

var _ TokenVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier creates a verifier. revoked may be nil, in which case
// tokens cannot be revoked before expiry.
func NewJWTVerifier(secret []byte, revoked *Revocations) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	return &JWTVerifier{secret: secret, revoked: revoked, now: time.Now}, nil
}

// Verify validates signature, expiry and revocation and returns the claims.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	var rc jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &rc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if rc.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	userID, err := strconv.ParseInt(rc.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: sub is not a user id", ErrInvalidToken)
	}
	if rc.ID == "" {
		return nil, fmt.Errorf("%w: jti", ErrMissingClaim)
	}
	if v.revoked != nil && v.revoked.IsRevoked(rc.ID) {
		return nil, ErrRevokedToken
	}

	return &Claims{
		UserID:    userID,
		TokenID:   rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// Generate signs a token for userID valid for expiresIn.
func (v *JWTVerifier) Generate(userID int64, expiresIn time.Duration) (string, *Claims, error) {
	now := v.now()
	claims := &Claims{
		UserID:    userID,
		TokenID:   uuid.New().String(),
		ExpiresAt: now.Add(expiresIn),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        claims.TokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
	})
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signing token: %w", err)
	}
	return signed, claims, nil
}

// Revoke rejects the token until it would have expired anyway.
func (v *JWTVerifier) Revoke(tokenID string, expiresAt time.Time) {
	if v.revoked != nil && tokenID != "" {
		v.revoked.Revoke(tokenID, expiresAt)
	}
}
