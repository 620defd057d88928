package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ProfileRepository implements authstate.ProfileStore on top of a
// go-repository-bun repository of profile rows.
type ProfileRepository struct {
	repository.Repository[*authstate.UserProfile]
	db  *bun.DB
	now func() time.Time
}

// NewProfilesRepository returns the generic repository of profile rows
func NewProfilesRepository(db *bun.DB) repository.Repository[*authstate.UserProfile] {
	handlers := repository.ModelHandlers[*authstate.UserProfile]{
		NewRecord: func() *authstate.UserProfile {
			return &authstate.UserProfile{}
		},
		GetID: func(record *authstate.UserProfile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			id, err := uuid.Parse(record.ID)
			if err != nil {
				return uuid.Nil
			}
			return id
		},
		SetID: func(record *authstate.UserProfile, id uuid.UUID) {
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

// NewProfileRepository creates a new profile store
func NewProfileRepository(db *bun.DB) *ProfileRepository {
	return &ProfileRepository{
		Repository: NewProfilesRepository(db),
		db:         db,
		now:        time.Now,
	}
}

// WithClock injects a custom clock (useful for tests).
func (r *ProfileRepository) WithClock(clock func() time.Time) *ProfileRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// FindProfileByID implements authstate.ProfileStore.
func (r *ProfileRepository) FindProfileByID(ctx context.Context, id string) (*authstate.UserProfile, error) {
	profile, err := r.Repository.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, authstate.ErrProfileNotFound
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find profile").
			WithMetadata(map[string]any{"id": id})
	}
	return profile, nil
}

// CreateProfile inserts a new profile row
func (r *ProfileRepository) CreateProfile(ctx context.Context, profile *authstate.UserProfile) (*authstate.UserProfile, error) {
	return r.CreateProfileTx(ctx, r.db, profile)
}

// CreateProfileTx inserts a new profile row using tx, so it can share the
// transaction creating the account.
func (r *ProfileRepository) CreateProfileTx(ctx context.Context, tx bun.IDB, profile *authstate.UserProfile) (*authstate.UserProfile, error) {
	if profile == nil || profile.ID == "" {
		return nil, goerrors.New("profile id is required", goerrors.CategoryValidation)
	}

	now := r.now()
	record := profile.Clone()
	if record.Role == "" {
		record.Role = authstate.LeastPrivilegeRole
	}
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now

	created, err := r.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profile").
			WithMetadata(map[string]any{"id": record.ID})
	}
	return created, nil
}

// UpdateProfile implements authstate.ProfileStore. Only email and role are
// mutable.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, profile *authstate.UserProfile) (*authstate.UserProfile, error) {
	if profile == nil || profile.ID == "" {
		return nil, goerrors.New("profile id is required", goerrors.CategoryValidation)
	}

	if _, err := r.FindProfileByID(ctx, profile.ID); err != nil {
		return nil, err
	}

	now := r.now()
	record := &authstate.UserProfile{
		ID:        profile.ID,
		Email:     profile.Email,
		Role:      profile.Role,
		UpdatedAt: &now,
	}

	_, err := r.Repository.UpdateTx(ctx, r.db, record,
		repository.UpdateByID(profile.ID),
		updateColumns("email", "role", "updated_at"),
	)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile").
			WithMetadata(map[string]any{"id": profile.ID})
	}

	return r.FindProfileByID(ctx, profile.ID)
}

// ListProfiles returns the profiles with the given role, every profile when
// role is empty. Roles are matched with their aliases.
func (r *ProfileRepository) ListProfiles(ctx context.Context, role string) ([]*authstate.UserProfile, error) {
	var profiles []*authstate.UserProfile
	q := r.db.NewSelect().
		Model(&profiles).
		Order("created_at ASC")

	if role != "" {
		q = q.Where("?TableAlias.role IN (?)", bun.In(roleAliases(role)))
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list profiles")
	}
	return profiles, nil
}

// updateColumns limits an update to the named columns
func updateColumns(columns ...string) repository.UpdateCriteria {
	return func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Column(columns...)
	}
}

func roleAliases(role string) []string {
	out := []string{}
	for _, candidate := range []string{
		authstate.RoleAdmin,
		authstate.RolePaciente,
		authstate.RolePatient,
		authstate.RoleEspecialista,
		authstate.RoleSpecialist,
	} {
		if authstate.RolesEquivalent(candidate, role) {
			out = append(out, candidate)
		}
	}
	if len(out) == 0 {
		out = append(out, role)
	}
	return out
}
