package local

import (
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NewUsersRepository returns the repository of credential records. Records
// are looked up by email when the identifier is not an id.
func NewUsersRepository(db *bun.DB) repository.Repository[*UserModel] {
	handlers := repository.ModelHandlers[*UserModel]{
		NewRecord: func() *UserModel {
			return &UserModel{}
		},
		GetID: func(record *UserModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(record.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *UserModel, id uuid.UUID) {
			if record != nil {
				record.ID = id.String()
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	}
	return repository.NewRepository(db, handlers)
}
