package authstate

import (
	"time"

	"github.com/uptrace/bun"
)

// User is the identity embedded in a provider session
type User struct {
	ID        string         `json:"id"`
	Email     string         `json:"email,omitempty"`
	Metadata  map[string]any `json:"user_metadata,omitempty"`
	CreatedAt *time.Time     `json:"created_at,omitempty"`
	UpdatedAt *time.Time     `json:"updated_at,omitempty"`
}

// RoleHint returns the role carried in the user metadata, if any
func (u *User) RoleHint() string {
	if u == nil || u.Metadata == nil {
		return ""
	}
	role, _ := u.Metadata["role"].(string)
	return role
}

// Session is the credential issued by the auth provider
type Session struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	User         *User      `json:"user"`
}

// UserID returns the session user id or an empty string
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Expired reports whether the session expired at the given instant
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == nil {
		return false
	}
	return !now.Before(*s.ExpiresAt)
}

// UserProfile is the application record extending an identity with a role
type UserProfile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            string     `bun:"id,pk" json:"id"`
	Email         string     `bun:"email,notnull" json:"email"`
	Role          UserRole   `bun:"role,notnull" json:"role"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Clone returns a copy of the profile that does not share timestamps
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	c := &UserProfile{
		ID:    p.ID,
		Email: p.Email,
		Role:  p.Role,
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		c.CreatedAt = &t
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		c.UpdatedAt = &t
	}
	return c
}
