package authstate

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCreds       = "INVALID_CREDENTIALS"
	TextCodeMissingCredentials = "MISSING_CREDENTIALS"
	TextCodeEmailRegistered    = "EMAIL_ALREADY_REGISTERED"
	TextCodeNoSession          = "SESSION_NOT_FOUND"
	TextCodeProfileNotFound    = "PROFILE_NOT_FOUND"
	TextCodeProfileMismatch    = "PROFILE_IDENTITY_MISMATCH"
	TextCodeProviderRequest    = "AUTH_PROVIDER_REQUEST_FAILED"
	TextCodeListenerStarted    = "AUTH_LISTENER_ALREADY_STARTED"
	TextCodeTokenExpired       = "TOKEN_EXPIRED"
	TextCodeTokenMalformed     = "TOKEN_MALFORMED"
)

// DefaultAuthErrorMessage is used when a failed auth action carries no message
const DefaultAuthErrorMessage = "Error de autenticación"

// ErrInvalidCredentials is returned when email and password do not match
var ErrInvalidCredentials = errors.New("invalid login credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCreds).
	WithCode(errors.CodeUnauthorized)

// ErrMissingCredentials is returned when the login form is incomplete
var ErrMissingCredentials = errors.New("Completa tu email y contraseña", errors.CategoryValidation).
	WithTextCode(TextCodeMissingCredentials).
	WithCode(errors.CodeBadRequest)

// ErrEmailRegistered is returned on sign up with a known email
var ErrEmailRegistered = errors.New("user already registered", errors.CategoryConflict).
	WithTextCode(TextCodeEmailRegistered).
	WithCode(errors.CodeConflict)

// ErrNoSession is returned when an operation needs an active session
var ErrNoSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoSession).
	WithCode(errors.CodeUnauthorized)

// ErrProfileNotFound is returned when the profile table has no row for a user
var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProfileMismatch is returned when a lookup yields a profile for another user
var ErrProfileMismatch = errors.New("profile does not belong to session user", errors.CategoryInternal).
	WithTextCode(TextCodeProfileMismatch)

// ErrProviderRequest wraps transport and protocol failures from the auth provider
var ErrProviderRequest = errors.New("auth provider request failed", errors.CategoryOperation).
	WithTextCode(TextCodeProviderRequest)

// ErrListenerStarted is returned when Start is called twice
var ErrListenerStarted = errors.New("auth listener already started", errors.CategoryConflict).
	WithTextCode(TextCodeListenerStarted).
	WithCode(errors.CodeConflict)

// ErrTokenExpired is returned for access tokens past their expiration
var ErrTokenExpired = errors.New("token is expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail to parse or verify
var ErrTokenMalformed = errors.New("token is malformed", errors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeUnauthorized)

// IsTokenExpired reports whether err is, or clones, ErrTokenExpired
func IsTokenExpired(err error) bool {
	return hasTextCode(err, TextCodeTokenExpired)
}

// IsTokenMalformed reports whether err is, or clones, ErrTokenMalformed
func IsTokenMalformed(err error) bool {
	return hasTextCode(err, TextCodeTokenMalformed)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	return errors.As(err, &richErr) && richErr.TextCode == code
}

// ErrorMessage extracts the user facing message of an auth action failure
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return DefaultAuthErrorMessage
}

// ProviderError clones ErrProviderRequest with a message and metadata
func ProviderError(message string, source error, meta map[string]any) error {
	clone := ErrProviderRequest.Clone()
	if clone == nil {
		return ErrProviderRequest
	}
	if message != "" {
		clone.Message = message
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
