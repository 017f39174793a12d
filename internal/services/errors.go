package services

import (
	"errors"
	"fmt"

	"github.com/orgstore/orgstore/internal/validation"
)

// Domain errors. Anything else returned by a service is an infrastructure
// failure and must be reported generically.
var (
	ErrNotFound      = errors.New("organization not found")
	ErrAlreadyExists = errors.New("organization already exists")
	ErrNameConflict  = errors.New("organization name already exists")
	ErrEmailInUse    = errors.New("admin email already in use")
	ErrUnauthorized  = errors.New("invalid credentials")
	ErrForbidden     = errors.New("not authorized for this organization")
	ErrConflict      = errors.New("organization is being modified by another operation")
)

// NameConflictError names the organization name a rename collided with. It
// matches ErrNameConflict.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("organization name '%s' already exists", e.Name)
}

// Is lets errors.Is(err, ErrNameConflict) match.
func (e *NameConflictError) Is(target error) bool {
	return target == ErrNameConflict
}

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// asValidationError converts a validation package error.
func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Field: fe.Field, Message: fe.Message}
	}
	return &ValidationError{Message: err.Error()}
}

// IsDomainError reports whether err belongs to the taxonomy above.
func IsDomainError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNameConflict) ||
		errors.Is(err, ErrEmailInUse) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict)
}

// resultLabel maps err to the result label of orgstore_lifecycle_operations_total.
func resultLabel(err error) string {
	var ve *ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrNameConflict):
		return "name_conflict"
	case errors.Is(err, ErrEmailInUse):
		return "email_in_use"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
