package authstate

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthProvider is the boundary to the hosted authentication service.
// Every call may fail with a provider error carrying a human readable message.
type AuthProvider interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context) error
	// OnAuthStateChange returns a channel with provider events in emission
	// order and the handle that unsubscribes it.
	OnAuthStateChange() (<-chan AuthEvent, func())
}

// ProfileStore is the authoritative profile table
type ProfileStore interface {
	FindProfileByID(ctx context.Context, id string) (*UserProfile, error)
	UpdateProfile(ctx context.Context, profile *UserProfile) (*UserProfile, error)
}

// ProfileResolver derives a profile for a session. Implementations
// never fail: errors degrade into the returned Resolution.
type ProfileResolver interface {
	Resolve(ctx context.Context, session *Session) Resolution
}

// Resolution is the normalized outcome of a profile resolution
type Resolution struct {
	Session    *Session
	Profile    *UserProfile
	IsFallback bool
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTHSTATE "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTHSTATE "+newline(format), args...)
}

// DefaultLogger returns the stdout logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
