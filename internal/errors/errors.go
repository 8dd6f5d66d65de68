// Package errors defines the coded error kinds shared across the bot:
// storage, validation, transport, configuration and authorization failures.
package errors

import (
	"errors"
	"fmt"
)

// Standard error codes for the application.
const (
	CodeUnknown      = "UNKNOWN"
	CodeStorage      = "STORAGE"
	CodeValidation   = "VALIDATION"
	CodeTransport    = "TRANSPORT"
	CodeConfig       = "CONFIG"
	CodeUnauthorized = "UNAUTHORIZED"
)

// ApplicationError is the interface that all our custom errors implement.
type ApplicationError interface {
	error
	Code() string
	Unwrap() error
}

// Error is a coded application error with an optional cause.
type Error struct {
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}

	return e.message
}

func (e *Error) Code() string {
	return e.code
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(code, message string, cause error) error {
	return &Error{code: code, message: message, err: cause}
}

// Code returns the code of the first ApplicationError in err's chain,
// or CodeUnknown if there is none.
func Code(err error) string {
	var appErr ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Code()
	}

	return CodeUnknown
}

// NewStorageError reports a failed durable read or write.
func NewStorageError(message string, cause error) error {
	return newError(CodeStorage, message, cause)
}

// NewValidationError reports malformed input, typically admin command arguments.
func NewValidationError(message string, cause error) error {
	return newError(CodeValidation, message, cause)
}

// NewTransportError reports a failed call to the completion provider.
func NewTransportError(message string, cause error) error {
	return newError(CodeTransport, message, cause)
}

// NewConfigError reports an invalid or unreadable configuration.
func NewConfigError(message string, cause error) error {
	return newError(CodeConfig, message, cause)
}

// NewUnauthorizedError reports a non-owner invoking an owner-only operation.
func NewUnauthorizedError(message string) error {
	return newError(CodeUnauthorized, message, nil)
}

func IsStorage(err error) bool      { return Code(err) == CodeStorage }
func IsValidation(err error) bool   { return Code(err) == CodeValidation }
func IsTransport(err error) bool    { return Code(err) == CodeTransport }
func IsUnauthorized(err error) bool { return Code(err) == CodeUnauthorized }
