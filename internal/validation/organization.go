// organization.go validates organization names, admin credentials and tenant
// document bodies before they reach the registry or a namespace store.
package validation

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// MaxOrganizationNameLength keeps "org_<name>" within the 63-byte identifier
// limit shared by Postgres schemas and MongoDB database names.
const MaxOrganizationNameLength = 59

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// MaxEmailLength is the RFC 5321 path limit.
const MaxEmailLength = 254

var organizationNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// FieldError describes a single invalid input field
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldError(field, format string, args ...interface{}) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateOrganizationName checks that name can be used as a namespace suffix
func ValidateOrganizationName(name string) error {
	if name == "" {
		return fieldError("organization_name", "is required")
	}
	if len(name) > MaxOrganizationNameLength {
		return fieldError("organization_name", "must be at most %d characters", MaxOrganizationNameLength)
	}
	if !organizationNamePattern.MatchString(name) {
		return fieldError("organization_name", "may only contain letters, digits, '_' and '-'")
	}
	return nil
}

// NormalizeEmail validates a bare email address and returns it lower-cased.
// Display names ("Jane <j@x.com>") are rejected.
func NormalizeEmail(field, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fieldError(field, "is required")
	}
	if len(email) > MaxEmailLength {
		return "", fieldError(field, "must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fieldError(field, "is not a valid email address")
	}
	return strings.ToLower(addr.Address), nil
}

// ValidatePassword checks the length bounds bcrypt imposes
func ValidatePassword(password string) error {
	if password == "" {
		return fieldError("password", "is required")
	}
	if len(password) > MaxPasswordBytes {
		return fieldError("password", "must be at most %d bytes", MaxPasswordBytes)
	}
	return nil
}

// ValidateDocument rejects empty bodies and top-level keys starting with '_',
// which are reserved for storage identifiers and the namespace marker.
func ValidateDocument(body map[string]interface{}) error {
	if len(body) == 0 {
		return errors.New("document must be a non-empty JSON object")
	}
	for key := range body {
		if strings.HasPrefix(key, "_") {
			return fieldError(key, "keys starting with '_' are reserved")
		}
		if strings.ContainsAny(key, ".$") || key == "" {
			return fieldError(key, "keys must be non-empty and must not contain '.' or '$'")
		}
	}
	return nil
}
