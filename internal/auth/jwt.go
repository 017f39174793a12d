// Package auth - jwt.go issues and verifies admin session tokens (HS256).
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the session lifetime when none is configured.
const DefaultTokenTTL = 30 * time.Minute

// Claims is the session token payload. OrganizationID carries the
// organization name; it is the identity Delete authorizes against.
type Claims struct {
	AdminID        string `json:"admin_id"`
	OrganizationID string `json:"organization_id"`
	Email          string `json:"email"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies session tokens with a shared secret
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IsDevMode reports whether the process runs in development mode.
func IsDevMode() bool {
	v := os.Getenv("DEV_MODE")
	return v == "true" || v == "1" || os.Getenv("GIN_MODE") == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewTokenIssuer creates an issuer. An empty secret is an error unless
// devMode is set, in which case a random per-process secret is generated.
func NewTokenIssuer(secret, issuer string, ttl time.Duration, devMode bool) (*TokenIssuer, error) {
	if secret == "" {
		if !devMode {
			return nil, errors.New("auth.jwt_secret is required outside development mode; " +
				"generate one with: openssl rand -hex 32")
		}
		generated, err := generateRandomSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
		slog.Warn("ORGSTORE_AUTH_JWT_SECRET not set; using an auto-generated secret, sessions will not survive a restart")
	} else if len(secret) < 32 {
		slog.Warn("jwt secret is shorter than the recommended 32 characters")
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// TTL returns the lifetime of issued tokens
func (i *TokenIssuer) TTL() time.Duration { return i.ttl }

// Issue creates a signed token for an organization admin
func (i *TokenIssuer) Issue(adminID, organization, email string) (string, error) {
	now := i.now()
	claims := &Claims{
		AdminID:        adminID,
		OrganizationID: organization,
		Email:          email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Subject:   adminID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify validates signature, algorithm, issuer and expiry. Any failure
// yields an error; callers must not expose which check failed.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OrganizationID == "" {
		return nil, errors.New("token carries no organization")
	}
	return claims, nil
}
