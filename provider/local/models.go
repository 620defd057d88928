package local

import (
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/uptrace/bun"
)

// UserModel is the credential record of the in-process provider
type UserModel struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID           string         `bun:"id,pk" json:"id"`
	Email        string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash string         `bun:"password_hash,notnull" json:"-"`
	Metadata     map[string]any `bun:"metadata,type:jsonb" json:"user_metadata,omitempty"`
	CreatedAt    *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt    *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// ToUser maps the record onto the session user
func (m *UserModel) ToUser() *authstate.User {
	if m == nil {
		return nil
	}
	meta := make(map[string]any, len(m.Metadata))
	for k, v := range m.Metadata {
		meta[k] = v
	}
	return &authstate.User{
		ID:        m.ID,
		Email:     m.Email,
		Metadata:  meta,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// Models returns the bun models owned by this provider, for migrations
func Models() []any {
	return []any{(*UserModel)(nil)}
}
