// Package apperror holds the error taxonomy shared by services and handlers.
package apperror

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrNotFound              = errors.New("resource not found")
	ErrValidation            = errors.New("validation failed")
	ErrConflict              = errors.New("conflict with current state")
	ErrForbidden             = errors.New("access denied")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrExtractionUnavailable = errors.New("invoice extraction unavailable")
)

// FieldError is a validation failure attached to a single input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Rejection is a per-invoice conflict that did not abort the surrounding operation.
type Rejection struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	Reason        string    `json:"reason"`
}

// ValidationError reports input problems found before any persistence attempt.
type ValidationError struct {
	Fields     []FieldError `json:"fields,omitempty"`
	Rejections []Rejection  `json:"rejections,omitempty"`
}

// NewValidation builds a ValidationError with a single field message.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}

// Add appends a field message.
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// HasErrors reports whether anything was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0 || len(e.Rejections) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields)+len(e.Rejections))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	for _, r := range e.Rejections {
		label := r.InvoiceNumber
		if label == "" {
			label = r.InvoiceID.String()
		}
		parts = append(parts, fmt.Sprintf("invoice %s: %s", label, r.Reason))
	}
	if len(parts) == 0 {
		return ErrValidation.Error()
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Conflict wraps ErrConflict with a message.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the entity name.
func NotFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrNotFound)
}

// Forbidden wraps ErrForbidden with a message.
func Forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}
