package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orgstore/orgstore/internal/validation"
)

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{&ValidationError{Field: "email", Message: "is required"}, "invalid"},
		{ErrNotFound, "not_found"},
		{fmt.Errorf("wrapped: %w", ErrAlreadyExists), "already_exists"},
		{&NameConflictError{Name: "Beta"}, "name_conflict"},
		{ErrEmailInUse, "email_in_use"},
		{ErrUnauthorized, "unauthorized"},
		{ErrForbidden, "forbidden"},
		{ErrConflict, "conflict"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, resultLabel(tt.err), "resultLabel(%v)", tt.err)
	}
}

func TestIsDomainError(t *testing.T) {
	assert.True(t, IsDomainError(ErrNotFound))
	assert.True(t, IsDomainError(&NameConflictError{Name: "x"}))
	assert.True(t, IsDomainError(&ValidationError{Message: "bad"}))
	assert.False(t, IsDomainError(errors.New("connection refused")))
	assert.False(t, IsDomainError(nil))
}

func TestNameConflictError(t *testing.T) {
	err := &NameConflictError{Name: "Beta"}
	assert.Equal(t, "organization name 'Beta' already exists", err.Error())
	assert.ErrorIs(t, err, ErrNameConflict)
}

func TestAsValidationError(t *testing.T) {
	err := asValidationError(validation.ValidatePassword(""))
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "password", ve.Field)
	assert.Equal(t, "password is required", ve.Error())

	assert.Nil(t, asValidationError(nil))

	plain := asValidationError(errors.New("document must be a non-empty JSON object"))
	assert.Equal(t, "document must be a non-empty JSON object", plain.Error())
}
