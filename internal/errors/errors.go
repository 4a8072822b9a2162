// Package errors defines the failure taxonomy shared by the OAuth, session,
// contact and profile packages.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrAuthRequired means the request carries no valid visitor session.
	ErrAuthRequired = errors.New("authentication required")

	// ErrNotFound means a remote lookup matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrNotConfigured means the Dynamics or identity provider credentials are incomplete.
	ErrNotConfigured = errors.New("not configured")
)

// OAuth failure reasons carried by AuthError.
const (
	ReasonProviderError       = "provider_error"
	ReasonMissingCode         = "missing_code"
	ReasonInvalidState        = "invalid_state"
	ReasonTokenExchangeFailed = "token_exchange_failed"
	ReasonProfileFetchFailed  = "profile_fetch_failed"
	ReasonNoEmail             = "no_email"
)

// AuthError is an OAuth flow failure.
type AuthError struct {
	Reason      string
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	msg := "oauth: " + e.Reason
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// NewAuthError builds an AuthError for reason.
func NewAuthError(reason, description string, err error) *AuthError {
	return &AuthError{Reason: reason, Description: description, Err: err}
}

// APIError is a non-2xx response from the Dynamics Web API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dynamics api returned status %d: %s", e.StatusCode, e.Message)
}

// TransportError is a network level failure (DNS, TLS, timeout) talking to a remote service.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// AuthReason returns the AuthError reason in err's chain, or "" when there is none.
func AuthReason(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Reason
	}
	return ""
}

// IsUpstream reports whether err came from a remote service (API or transport failure).
func IsUpstream(err error) bool {
	var apiErr *APIError
	var transportErr *TransportError
	return errors.As(err, &apiErr) || errors.As(err, &transportErr)
}
