// Package apperrors defines the error taxonomy shared by services and
// handlers. Handlers translate these into HTTP responses in one place.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	// ErrConflict signals a lost compare-and-swap on a status column.
	ErrConflict = errors.New("conflict")
)

// NotFoundError names the missing entity while still matching ErrNotFound.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return e.Entity + " not found"
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NotFound returns an error for the named entity.
func NotFound(entity string) error {
	return &NotFoundError{Entity: entity}
}

// ValidationError is a business-rule or input-shape violation.
type ValidationError struct {
	Field   string            `json:"field"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrors creates a validation error carrying per-field details.
func NewValidationErrors(message string, details map[string]string) *ValidationError {
	return &ValidationError{Message: message, Details: details}
}

// ExternalError wraps a failure of a collaborator (gateway, notifier).
type ExternalError struct {
	Dependency string
	Err        error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Dependency, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// External wraps err as a failure of the named dependency.
func External(dependency string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalError{Dependency: dependency, Err: err}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AsValidation extracts a *ValidationError from err.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// AsExternal extracts an *ExternalError from err.
func AsExternal(err error) (*ExternalError, bool) {
	var ee *ExternalError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}
