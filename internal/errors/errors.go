/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package errors provides the structured error taxonomy used across the
// engine: every public operation in spec.md section 7 returns one of these
// kinds rather than a bare error, so callers (and the pilot surface) can
// branch on Type without parsing messages.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorType classifies an AppError for HTTP mapping, logging, and
// caller-side branching.
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeDatabase          ErrorType = "database"
	ErrorTypeNetwork           ErrorType = "network"
	ErrorTypeAuth              ErrorType = "auth"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeIllegalTransition ErrorType = "illegal_transition"
	ErrorTypeLeaseLost         ErrorType = "lease_lost"
	ErrorTypePolicyNoMatch     ErrorType = "policy_no_match"
)

var statusCodes = map[ErrorType]int{
	ErrorTypeValidation:        http.StatusBadRequest,
	ErrorTypeAuth:              http.StatusUnauthorized,
	ErrorTypeNotFound:          http.StatusNotFound,
	ErrorTypeConflict:          http.StatusConflict,
	ErrorTypeTimeout:           http.StatusRequestTimeout,
	ErrorTypeRateLimit:         http.StatusTooManyRequests,
	ErrorTypeDatabase:          http.StatusInternalServerError,
	ErrorTypeNetwork:           http.StatusInternalServerError,
	ErrorTypeInternal:          http.StatusInternalServerError,
	ErrorTypeIllegalTransition: http.StatusConflict,
	ErrorTypeLeaseLost:         http.StatusConflict,
	ErrorTypePolicyNoMatch:     http.StatusUnprocessableEntity,
}

// AppError is the engine's single error shape.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
	}
}

func statusCodeFor(t ErrorType) int {
	if code, ok := statusCodes[t]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Wrap attaches an underlying cause to a new AppError.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: statusCodeFor(t),
		Cause:      cause,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...any) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails sets Details in place and returns the same error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf is WithDetails with a formatted string.
func (e *AppError) WithDetailsf(format string, args ...any) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation AppError.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

// NewDatabaseError wraps a storage-layer error with operation context.
func NewDatabaseError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDatabase, "database operation failed: %s", operation)
}

// NewNotFoundError creates a not-found AppError for the named resource.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource))
}

// NewAuthError creates an authentication/authorization AppError.
func NewAuthError(message string) *AppError {
	return New(ErrorTypeAuth, message)
}

// NewTimeoutError creates a timeout AppError for the named operation.
func NewTimeoutError(operation string) *AppError {
	return New(ErrorTypeTimeout, fmt.Sprintf("operation timed out: %s", operation))
}

// NewIllegalTransition reports an attempted illegal UOW state transition
// (spec.md section 4.6); state is left untouched by the caller.
func NewIllegalTransition(from, to string) *AppError {
	return New(ErrorTypeIllegalTransition, fmt.Sprintf("illegal transition: %s -> %s", from, to))
}

// NewLeaseLost reports a submit/heartbeat against an expired or
// already-reassigned lease (spec.md section 4.7).
func NewLeaseLost(uowID string) *AppError {
	return New(ErrorTypeLeaseLost, fmt.Sprintf("lease lost for uow %s", uowID))
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	return appErr.Type == t
}

// GetType returns the AppError's type, or ErrorTypeInternal for any other
// error (including nil-adjacent plain errors).
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status an error would map to if surfaced
// over a transport, regardless of whether this engine exposes one.
func GetStatusCode(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages holds the canned messages returned to untrusted callers for
// error types whose natural Message may leak internal detail.
var safeMessages = struct {
	ResourceNotFound       string
	AuthenticationFailed   string
	OperationTimeout       string
	RateLimitExceeded      string
	ConcurrentModification string
}{
	ResourceNotFound:       "The requested resource was not found",
	AuthenticationFailed:   "Authentication failed",
	OperationTimeout:       "The operation timed out",
	RateLimitExceeded:      "Rate limit exceeded",
	ConcurrentModification: "The resource was modified concurrently",
}

// ErrorMessages exposes the canned safe messages for callers building their
// own responses.
var ErrorMessages = safeMessages

// SafeErrorMessage returns a message safe to expose to an untrusted caller:
// validation messages pass through verbatim (they describe caller input),
// everything else maps to a canned message that avoids leaking internals.
func SafeErrorMessage(err error) string {
	appErr, ok := err.(*AppError)
	if !ok {
		return "An unexpected error occurred"
	}
	switch appErr.Type {
	case ErrorTypeValidation:
		return appErr.Message
	case ErrorTypeNotFound:
		return ErrorMessages.ResourceNotFound
	case ErrorTypeAuth:
		return ErrorMessages.AuthenticationFailed
	case ErrorTypeTimeout:
		return ErrorMessages.OperationTimeout
	case ErrorTypeRateLimit:
		return ErrorMessages.RateLimitExceeded
	case ErrorTypeConflict:
		return ErrorMessages.ConcurrentModification
	default:
		return "An internal error occurred"
	}
}

// LogFields renders an error as a structured key/value map ("error", plus
// "error_type", "status_code", and the optional "error_details" and
// "underlying_error" keys for an *AppError).
func LogFields(err error) map[string]any {
	fields := map[string]any{
		"error": err.Error(),
	}
	appErr, ok := err.(*AppError)
	if !ok {
		return fields
	}
	fields["error_type"] = string(appErr.Type)
	fields["status_code"] = appErr.StatusCode
	if appErr.Details != "" {
		fields["error_details"] = appErr.Details
	}
	if appErr.Cause != nil {
		fields["underlying_error"] = appErr.Cause.Error()
	}
	return fields
}

// Chain joins a set of errors (ignoring nils) into one error whose message
// concatenates each with " -> ". Returns nil if every error is nil, and
// returns the single error unchanged if only one is non-nil.
func Chain(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	}
	msg := nonNil[0].Error()
	for _, e := range nonNil[1:] {
		msg += " -> " + e.Error()
	}
	return fmt.Errorf("%s", msg)
}
