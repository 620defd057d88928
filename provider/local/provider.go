package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/repository"
	goerrors "github.com/goliatone/go-errors"
	repo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Provider is an in-process authstate.AuthProvider backed by a users table.
// It holds the one session of the process, the way a browser tab holds the
// session of a hosted auth client.
type Provider struct {
	db         *bun.DB
	users      repo.Repository[*UserModel]
	profiles   *repository.ProfileRepository
	tokens     *TokenService
	bus        *authstate.EventBus
	hashCost   int
	refreshTTL time.Duration
	now        func() time.Time
	logger     authstate.Logger

	mu               sync.Mutex
	session          *authstate.Session
	refreshExpiresAt time.Time
}

// NewProvider creates a provider storing users in db
func NewProvider(db *bun.DB, cfg Config) *Provider {
	logger := authstate.DefaultLogger()
	return &Provider{
		db:         db,
		users:      NewUsersRepository(db),
		profiles:   repository.NewProfileRepository(db),
		tokens:     NewTokenService(cfg, logger),
		bus:        authstate.NewEventBus(0),
		refreshTTL: time.Duration(cfg.GetRefreshExpiration()) * time.Hour,
		now:        time.Now,
		logger:     logger,
	}
}

func (p *Provider) WithLogger(logger authstate.Logger) *Provider {
	if logger != nil {
		p.logger = logger
		p.tokens.logger = logger
	}
	return p
}

// WithHashCost overrides the bcrypt cost, zero keeps the build default
func (p *Provider) WithHashCost(cost int) *Provider {
	p.hashCost = cost
	return p
}

// WithClock injects a custom clock (useful for tests).
func (p *Provider) WithClock(clock func() time.Time) *Provider {
	if clock != nil {
		p.now = clock
		p.tokens.WithClock(clock)
		p.profiles.WithClock(clock)
	}
	return p
}

// OnAuthStateChange implements authstate.AuthProvider.
func (p *Provider) OnAuthStateChange() (<-chan authstate.AuthEvent, func()) {
	return p.bus.Subscribe()
}

// GetSession implements authstate.AuthProvider. An expired access token is
// refreshed on the way out. When that fails, or the token does not verify,
// the session is dropped.
func (p *Provider) GetSession(ctx context.Context) (*authstate.Session, error) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()

	if session == nil {
		return nil, nil
	}

	_, err := p.tokens.Validate(session.AccessToken)
	switch {
	case err == nil:
		return session, nil
	case !authstate.IsTokenExpired(err):
		p.logger.Error("local provider: dropping session with invalid token: %v", err)
		p.drop()
		return nil, nil
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil {
		p.logger.Warn("local provider: session expired and refresh failed: %v", err)
		p.drop()
		return nil, nil
	}
	return refreshed, nil
}

// SignInWithPassword implements authstate.AuthProvider.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*authstate.Session, error) {
	user, err := p.findUserByEmail(ctx, email)
	if err != nil {
		if repo.IsRecordNotFound(err) {
			p.logger.Debug("local provider: unknown user %s", email)
			return nil, authstate.ErrInvalidCredentials
		}
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		p.logger.Debug("local provider: password mismatch for %s", email)
		return nil, authstate.ErrInvalidCredentials
	}

	session, err := p.issue(user.ToUser())
	if err != nil {
		return nil, err
	}

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: session})
	return session, nil
}

// SignUp implements authstate.AuthProvider. New accounts get the least
// privilege role and are signed in right away.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*authstate.Session, error) {
	user, err := p.Register(ctx, email, password, authstate.LeastPrivilegeRole)
	if err != nil {
		return nil, err
	}

	session, err := p.issue(user)
	if err != nil {
		return nil, err
	}

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: session})
	return session, nil
}

// SignOut implements authstate.AuthProvider.
func (p *Provider) SignOut(context.Context) error {
	p.drop()
	return nil
}

// Register creates the user and its profile row in one transaction without
// signing in.
func (p *Provider) Register(ctx context.Context, email, password string, role authstate.UserRole) (*authstate.User, error) {
	email = normalizeEmail(email)
	if !authstate.IsValidRole(role) {
		return nil, goerrors.New("unknown role", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"role": role})
	}

	switch _, err := p.findUserByEmail(ctx, email); {
	case err == nil:
		return nil, authstate.ErrEmailRegistered
	case !repo.IsRecordNotFound(err):
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check user email")
	}

	hash, err := HashPassword(password, p.hashCost)
	if err != nil {
		return nil, err
	}

	now := p.now()
	record := &UserModel{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     map[string]any{"role": role},
		CreatedAt:    &now,
		UpdatedAt:    &now,
	}

	err = p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := p.users.CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create user")
		}
		_, err := p.profiles.CreateProfileTx(ctx, tx, &authstate.UserProfile{
			ID:        record.ID,
			Email:     record.Email,
			Role:      role,
			CreatedAt: &now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("local provider: registered user %s with role %s", record.ID, role)
	return record.ToUser(), nil
}

// Refresh rotates the access and refresh tokens of the current session
func (p *Provider) Refresh(ctx context.Context) (*authstate.Session, error) {
	p.mu.Lock()
	current := p.session
	refreshExpiresAt := p.refreshExpiresAt
	p.mu.Unlock()

	if current == nil {
		return nil, authstate.ErrNoSession
	}
	if !p.now().Before(refreshExpiresAt) {
		return nil, ErrRefreshTokenInvalid
	}

	record, err := p.findUserByID(ctx, current.UserID())
	if err != nil {
		return nil, err
	}

	session, err := p.swap(current, record.ToUser())
	if err != nil {
		return nil, err
	}

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventTokenRefreshed, Session: session})
	return session, nil
}

// UpdateUser merges metadata into the current user and reissues the session
func (p *Provider) UpdateUser(ctx context.Context, metadata map[string]any) (*authstate.User, error) {
	p.mu.Lock()
	current := p.session
	p.mu.Unlock()

	if current == nil {
		return nil, authstate.ErrNoSession
	}

	record, err := p.findUserByID(ctx, current.UserID())
	if err != nil {
		return nil, err
	}

	if record.Metadata == nil {
		record.Metadata = map[string]any{}
	}
	for k, v := range metadata {
		record.Metadata[k] = v
	}
	now := p.now()
	record.UpdatedAt = &now

	if _, err := p.users.Update(ctx, record,
		repo.UpdateByID(record.ID),
		func(q *bun.UpdateQuery) *bun.UpdateQuery { return q.Column("metadata", "updated_at") },
	); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user")
	}

	session, err := p.swap(current, record.ToUser())
	if err != nil {
		return nil, err
	}

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventUserUpdated, Session: session})
	return session.User, nil
}

// CurrentSession returns the session held by the provider
func (p *Provider) CurrentSession() *authstate.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// StartAutoRefresh refreshes the session every interval when it expires
// within margin. The returned function stops the loop.
func (p *Provider) StartAutoRefresh(ctx context.Context, interval, margin time.Duration) func() {
	return authstate.AutoRefresh(ctx, p, interval, margin, p.now, func(err error) {
		p.logger.Warn("local provider: auto refresh failed: %v", err)
		if err == ErrRefreshTokenInvalid {
			p.drop()
		}
	})
}

// swap reissues the session only if it is still the current one
func (p *Provider) swap(current *authstate.Session, user *authstate.User) (*authstate.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != current {
		return nil, authstate.ErrNoSession
	}

	session, err := p.mint(user)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (p *Provider) issue(user *authstate.User) (*authstate.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mint(user)
}

// mint must be called with mu held
func (p *Provider) mint(user *authstate.User) (*authstate.Session, error) {
	token, expiresAt, err := p.tokens.Generate(user)
	if err != nil {
		return nil, err
	}

	session := &authstate.Session{
		AccessToken:  token,
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    &expiresAt,
		User:         user,
	}
	p.session = session
	p.refreshExpiresAt = p.now().Add(p.refreshTTL)
	return session, nil
}

func (p *Provider) drop() {
	p.mu.Lock()
	p.session = nil
	p.refreshExpiresAt = time.Time{}
	p.mu.Unlock()

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedOut})
}

// findUserByEmail returns a record not found error for unknown emails
func (p *Provider) findUserByEmail(ctx context.Context, email string) (*UserModel, error) {
	record, err := p.users.GetByIdentifier(ctx, normalizeEmail(email))
	if err != nil {
		if repo.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, repo.NewRecordNotFound().WithMetadata(map[string]any{"email": email})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user")
	}
	return record, nil
}

func (p *Provider) findUserByID(ctx context.Context, id string) (*UserModel, error) {
	record, err := p.users.GetByID(ctx, id)
	if err != nil {
		if repo.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
			return nil, authstate.ErrNoSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find user")
	}
	return record, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
