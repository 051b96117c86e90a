// Package errors provides the failure taxonomy for the offsync data layer.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common domain error conditions.
var (
	ErrStoreNotInitialized = errors.New("store not initialized")
	ErrUnauthenticated     = errors.New("session not authenticated")
	ErrUnauthorized        = errors.New("remote rejected credentials")
	ErrDrainInProgress     = errors.New("drain already in progress")
	ErrOffline             = errors.New("offline")
	ErrEntityNotFound      = errors.New("entity not found")
	ErrMutationNotFound    = errors.New("mutation not found")
	ErrInvalidMethod       = errors.New("unsupported mutation method")
	ErrEndpointRequired    = errors.New("endpoint required")
	ErrCategoryRequired    = errors.New("category required")
)

// ErrorCode categorizes errors for handling and reporting.
type ErrorCode string

const (
	// CodeConnectivity means the request never reached the server (timeout, DNS, refused).
	CodeConnectivity ErrorCode = "CONNECTIVITY"
	// CodeServer means the server answered with a 5xx or an unreadable body.
	CodeServer ErrorCode = "SERVER"
	// CodeClient means the server rejected the request (4xx, success=false).
	CodeClient ErrorCode = "CLIENT"
	// CodeUnauthorized means the server answered 401.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// CodeStore means local persistence failed.
	CodeStore         ErrorCode = "STORE"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeConfiguration ErrorCode = "CONFIG"
)

// SyncError wraps errors with a code and additional context for handling.
type SyncError struct {
	Code       ErrorCode
	Message    string
	StatusCode int // HTTP status when the failure came from the remote service
	Cause      error
	Context    map[string]interface{}

	credential string
}

// Error returns a formatted error string including the code, message, and cause if present.
func (e *SyncError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error for use with errors.Is and errors.As.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether a replay of the same request may succeed later.
func (e *SyncError) Retryable() bool {
	return e.Code == CodeConnectivity || e.Code == CodeServer
}

// NewError creates a new SyncError with the given code, message, and optional cause.
func NewError(code ErrorCode, message string, cause error) *SyncError {
	return &SyncError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// NewRemoteError creates a SyncError carrying the HTTP status of a remote response.
func NewRemoteError(code ErrorCode, status int, message string) *SyncError {
	err := NewError(code, message, nil)
	err.StatusCode = status
	return err
}

// WithRejectedCredential records the credential a 401 was issued against.
// It is never included in Error.
func WithRejectedCredential(err *SyncError, credential string) *SyncError {
	err.credential = credential
	return err
}

// RejectedCredential returns the credential recorded on a 401 error, or "" when unknown.
func RejectedCredential(err error) string {
	var se *SyncError
	if errors.As(err, &se) {
		return se.credential
	}
	return ""
}

// WithContext adds a key-value pair to the error's context and returns the error.
func WithContext(err *SyncError, key string, value interface{}) *SyncError {
	if err.Context == nil {
		err.Context = make(map[string]interface{})
	}
	err.Context[key] = value
	return err
}

// CodeOf returns the code of the first SyncError in err's chain.
// Errors outside the taxonomy report an empty code.
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, ErrStoreNotInitialized) {
		return CodeStore
	}
	return ""
}

// IsRetryable reports whether err is a connectivity or server failure.
func IsRetryable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// IsConnectivity reports whether err is a connectivity failure.
func IsConnectivity(err error) bool {
	return CodeOf(err) == CodeConnectivity
}

// IsUnauthorized reports whether err came from a 401 response.
func IsUnauthorized(err error) bool {
	return CodeOf(err) == CodeUnauthorized || errors.Is(err, ErrUnauthorized)
}

// StoreError wraps a persistence failure as a CodeStore error.
func StoreError(message string, cause error) *SyncError {
	return NewError(CodeStore, message, cause)
}

// Is reports whether err matches target using errors.Is semantics.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around the standard library's errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
