package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a chat, project, file or backend does not exist.
var ErrNotFound = errors.New("not found")

// ConnectionError means the inference backend could not be reached or answered
// with something other than a usable response. Callers may retry.
type ConnectionError struct {
	URL    string
	Detail string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("unable to connect to ollama at %s: %s", e.URL, e.Detail)
}

// ModelNotFoundError means the backend is up but does not have the requested model.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found", e.Model)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func IsModelNotFound(err error) bool {
	var me *ModelNotFoundError
	return errors.As(err, &me)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// looksLikeMissingModel matches the wording ollama uses for unknown models.
func looksLikeMissingModel(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "not found") || strings.Contains(lower, "does not exist")
}
