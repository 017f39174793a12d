package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/telemetry"
	"github.com/orgstore/orgstore/internal/validation"
)

// TokenTypeBearer is the token_type returned by Login.
const TokenTypeBearer = "bearer"

// Session is a successful login
type Session struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
}

// AdminAuthService authenticates organization admins and verifies their
// session tokens.
type AdminAuthService struct {
	registry Registry
	hasher   PasswordHasher
	tokens   TokenIssuer
}

// NewAdminAuthService creates a new admin authentication service
func NewAdminAuthService(registry Registry, hasher PasswordHasher, tokens TokenIssuer) *AdminAuthService {
	return &AdminAuthService{registry: registry, hasher: hasher, tokens: tokens}
}

// Login verifies the admin's password and issues a session token. Unknown
// emails and wrong passwords are indistinguishable to the caller.
func (s *AdminAuthService) Login(ctx context.Context, email, password string) (session *Session, err error) {
	defer func() { recordOperation("login", err) }()

	normalized, err := validation.NormalizeEmail("email", email)
	if err != nil {
		return nil, asValidationError(err)
	}
	if password == "" {
		return nil, &ValidationError{Field: "password", Message: "is required"}
	}

	org, err := s.registry.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to look up admin: %w", err)
	}
	if org == nil {
		s.hasher.VerifyMissing(password)
		slog.InfoContext(ctx, "admin login failed", "reason", "unknown email",
			"request_id", telemetry.RequestIDFromContext(ctx))
		return nil, ErrUnauthorized
	}
	if !s.hasher.Verify(org.AdminPasswordHash, password) {
		slog.InfoContext(ctx, "admin login failed", "reason", "wrong password",
			"organization", org.Name, "request_id", telemetry.RequestIDFromContext(ctx))
		return nil, ErrUnauthorized
	}

	token, err := s.tokens.Issue(org.ID, org.Name, org.AdminEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.InfoContext(ctx, "admin logged in", logAttrs(ctx, org.Name)...)
	return &Session{
		AccessToken: token,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.tokens.TTL().Seconds()),
	}, nil
}

// Verify returns the token's claims, or ErrUnauthorized for any invalid,
// expired or malformed token.
func (s *AdminAuthService) Verify(token string) (*auth.Claims, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		slog.Debug("session token rejected", "error", err)
		return nil, ErrUnauthorized
	}
	return claims, nil
}
