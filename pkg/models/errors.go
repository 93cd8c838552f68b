package models

import (
	"errors"
	"fmt"
)

// ErrorKind tags an engine error with its machine-readable category.
type ErrorKind string

const (
	ErrKindValidation     ErrorKind = "validation"
	ErrKindRecommendation ErrorKind = "recommendation"
	ErrKindTraining       ErrorKind = "training"
	ErrKindProfileUpdate  ErrorKind = "profile_update"
)

// Error is the engine's tagged error type: a kind, a short machine code,
// a human message, and structured context for logs and API envelopes.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Context map[string]interface{}
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// WithContext attaches one structured context entry and returns the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause attaches an underlying error and returns the error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

func newError(kind ErrorKind, code, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewValidationError builds a validation-kind error (low severity,
// client-correctable).
func NewValidationError(code, format string, args ...interface{}) *Error {
	return newError(ErrKindValidation, code, format, args...)
}

// NewRecommendationError builds a recommendation-kind error (client-facing,
// recoverable via fallback).
func NewRecommendationError(code, format string, args ...interface{}) *Error {
	return newError(ErrKindRecommendation, code, format, args...)
}

// NewTrainingError builds a training-kind error (operational, aborts the
// job, never fatal to serving).
func NewTrainingError(code, format string, args ...interface{}) *Error {
	return newError(ErrKindTraining, code, format, args...)
}

// NewProfileUpdateError builds a profile-update-kind error (operational,
// isolated from the interaction ack path).
func NewProfileUpdateError(code, format string, args ...interface{}) *Error {
	return newError(ErrKindProfileUpdate, code, format, args...)
}

// KindOf returns the kind of err if it is (or wraps) an engine Error,
// or "" otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
