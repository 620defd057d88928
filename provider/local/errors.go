package local

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeRefreshInvalid = "REFRESH_TOKEN_INVALID"
	TextCodeEmptyPassword  = "EMPTY_PASSWORD"
)

// ErrEmptyPassword is returned when hashing an empty password
var ErrEmptyPassword = errors.New("password must not be empty", errors.CategoryValidation).
	WithTextCode(TextCodeEmptyPassword).
	WithCode(errors.CodeBadRequest)

// ErrMismatchedHashAndPassword is returned when a password does not match its hash
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrRefreshTokenInvalid is returned when the refresh token does not match the session
var ErrRefreshTokenInvalid = errors.New("refresh token is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeRefreshInvalid).
	WithCode(errors.CodeUnauthorized)
