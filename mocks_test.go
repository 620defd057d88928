package authstate_test

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/stretchr/testify/mock"
)

// MockProfileStore implements authstate.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FindProfileByID(ctx context.Context, id string) (*authstate.UserProfile, error) {
	args := m.Called(ctx, id)
	p, _ := args.Get(0).(*authstate.UserProfile)
	return p, args.Error(1)
}

func (m *MockProfileStore) UpdateProfile(ctx context.Context, profile *authstate.UserProfile) (*authstate.UserProfile, error) {
	args := m.Called(ctx, profile)
	p, _ := args.Get(0).(*authstate.UserProfile)
	return p, args.Error(1)
}

// MockResolver implements authstate.ProfileResolver
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, session *authstate.Session) authstate.Resolution {
	args := m.Called(ctx, session)
	return args.Get(0).(authstate.Resolution)
}

// fakeProvider is an in-memory authstate.AuthProvider driven by tests
type fakeProvider struct {
	mu      sync.Mutex
	bus     *authstate.EventBus
	session *authstate.Session
	err     error

	signInErr error
	signUpErr error
	signOut   error
}

func newFakeProvider(session *authstate.Session) *fakeProvider {
	return &fakeProvider{
		bus:     authstate.NewEventBus(0),
		session: session,
	}
}

func (p *fakeProvider) GetSession(context.Context) (*authstate.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.err
}

func (p *fakeProvider) SignInWithPassword(_ context.Context, email, _ string) (*authstate.Session, error) {
	p.mu.Lock()
	if p.signInErr != nil {
		p.mu.Unlock()
		return nil, p.signInErr
	}
	p.session = newSession("user-"+email, email, "")
	s := p.session
	p.mu.Unlock()
	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: s})
	return s, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string) (*authstate.Session, error) {
	if p.signUpErr != nil {
		return nil, p.signUpErr
	}
	return p.SignInWithPassword(ctx, email, password)
}

func (p *fakeProvider) SignOut(context.Context) error {
	if p.signOut != nil {
		return p.signOut
	}
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()
	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedOut})
	return nil
}

func (p *fakeProvider) OnAuthStateChange() (<-chan authstate.AuthEvent, func()) {
	return p.bus.Subscribe()
}

func (p *fakeProvider) emit(kind authstate.AuthEventKind, session *authstate.Session) {
	p.bus.Publish(authstate.AuthEvent{Kind: kind, Session: session})
}

func newSession(id, email, role string) *authstate.Session {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	user := &authstate.User{
		ID:        id,
		Email:     email,
		CreatedAt: &created,
	}
	if role != "" {
		user.Metadata = map[string]any{"role": role}
	}
	exp := time.Now().Add(time.Hour)
	return &authstate.Session{
		AccessToken: "token-" + id,
		ExpiresAt:   &exp,
		User:        user,
	}
}

func newProfile(id, role string) *authstate.UserProfile {
	now := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	return &authstate.UserProfile{
		ID:        id,
		Email:     id + "@example.com",
		Role:      role,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

type recordingSink struct {
	mu     sync.Mutex
	events []authstate.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event authstate.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []authstate.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]authstate.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}
