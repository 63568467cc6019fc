package schema

import (
	"errors"
	"fmt"
)

// ErrUnknownType is returned when an envelope carries a type with no registered schema.
var ErrUnknownType = errors.New("unknown event type")

// ValidationError represents a payload that does not match its schema.
type ValidationError struct {
	Type    string `json:"type"`
	Version int    `json:"version"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s (schema %s v%d)", e.Message, e.Type, e.Version)
}

// ValidationDetailer surfaces structured validation details for logs and dead-letter records.
type ValidationDetailer interface {
	Details() map[string]interface{}
}

// Details returns the structured fields from this validation error.
func (e *ValidationError) Details() map[string]interface{} {
	return map[string]interface{}{
		"schema":  e.Type,
		"version": e.Version,
		"reason":  e.Message,
	}
}

func newValidationError(s *Schema, err error) *ValidationError {
	return &ValidationError{
		Type:    string(s.Type),
		Version: s.Version,
		Message: err.Error(),
	}
}
