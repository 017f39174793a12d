package auth

import (
	"errors"
	"strings"
)

// ExtractBearerToken extracts the token from an Authorization header.
// Expected format: "Bearer <token>" (scheme is case-insensitive).
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header is empty")
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("authorization header must start with 'Bearer '")
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("token is empty after Bearer prefix")
	}

	return token, nil
}
