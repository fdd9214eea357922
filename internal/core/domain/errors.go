// Package domain defines the core domain models for ClipMesh.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business domain error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "CM-SESS-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison by code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Session errors (SESS).
var (
	// ErrSessionNotFound indicates the requested session was not found.
	ErrSessionNotFound = NewDomainError("CM-SESS-4040", "session not found")

	// ErrSessionExists indicates the session ID is already taken.
	ErrSessionExists = NewDomainError("CM-SESS-4090", "session already exists")

	// ErrSessionBanned indicates the session has been banned after a failed
	// join verification and can no longer be used.
	ErrSessionBanned = NewDomainError("CM-SESS-4030", "session is banned")

	// ErrSessionValidation indicates session field validation failed.
	ErrSessionValidation = NewDomainError("CM-SESS-4001", "session validation failed")
)

// Membership and authorization errors (AUTH / MEMB).
var (
	// ErrJoinDenied indicates a join attempt was rejected (non-existent
	// session, denied vouching, or banned session).
	ErrJoinDenied = NewDomainError("CM-AUTH-4010", "join denied")

	// ErrNotAuthorized indicates a member attempted an operation reserved
	// for authorized members (clipboard mutation, vouching, file sharing).
	ErrNotAuthorized = NewDomainError("CM-AUTH-4030", "member not authorized")

	// ErrMemberNotFound indicates the member is not part of the session.
	ErrMemberNotFound = NewDomainError("CM-MEMB-4040", "member not found")
)

// Verification errors (VER).
var (
	// ErrVerificationTimeout indicates no vouching member produced a verdict
	// within the verification window.
	ErrVerificationTimeout = NewDomainError("CM-VER-4080", "verification timed out")

	// ErrVerificationNotFound indicates there is no pending verification for
	// the given session and connection.
	ErrVerificationNotFound = NewDomainError("CM-VER-4040", "no pending verification")
)

// Argument errors (ARG).
var (
	// ErrMissingArgument indicates a required argument is missing.
	ErrMissingArgument = NewDomainError("CM-ARG-1002", "missing required argument")

	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("CM-ARG-1001", "invalid argument")
)

// System errors (SYS).
var (
	// ErrInternalServer indicates an internal server error.
	ErrInternalServer = NewDomainError("CM-SYS-5000", "internal server error")

	// ErrRateLimited indicates too many requests from one client.
	ErrRateLimited = NewDomainError("CM-SYS-4290", "too many requests")
)
