package gotrue

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAnonKey = "anon-key"

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func userJSON(id, email, role string) map[string]any {
	return map[string]any{
		"id":            id,
		"email":         email,
		"user_metadata": map[string]any{"role": role},
		"created_at":    "2024-05-01T10:00:00Z",
		"updated_at":    "2024-05-02T10:00:00Z",
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	provider := New(Config{
		URL:        server.URL + "/",
		AnonKey:    testAnonKey,
		HTTPClient: server.Client(),
	}).WithLogger(nopLogger{})
	return provider, server
}

func nextEvent(t *testing.T, events <-chan authstate.AuthEvent) authstate.AuthEvent {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for auth event")
		return authstate.AuthEvent{}
	}
}

func TestProviderSignInWithPassword(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, testAnonKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer "+testAnonKey, r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, "ana@example.com", body["email"])
		assert.Equal(t, "secret123", body["password"])

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": "refresh-1",
			"user":          userJSON("u1", "ana@example.com", "especialista"),
		})
	})

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	session, err := provider.SignInWithPassword(context.Background(), "ana@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "access-1", session.AccessToken)
	assert.Equal(t, "refresh-1", session.RefreshToken)
	require.NotNil(t, session.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *session.ExpiresAt, 5*time.Second)
	assert.Equal(t, "u1", session.UserID())
	assert.Equal(t, "especialista", session.User.RoleHint())

	event := nextEvent(t, events)
	assert.Equal(t, authstate.EventSignedIn, event.Kind)
	assert.Equal(t, session, event.Session)

	current, err := provider.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session, current)
	assert.Equal(t, "access-1", provider.AccessToken())
}

func TestProviderSignInInvalidCredentials(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"oauth layout", map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"}},
		{"error code layout", map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			})

			_, err := provider.SignInWithPassword(context.Background(), "ana@example.com", "wrong")
			assert.ErrorIs(t, err, authstate.ErrInvalidCredentials)
			assert.Nil(t, provider.CurrentSession())
		})
	}
}

func TestProviderServerErrorWrapsProviderRequest(t *testing.T) {
	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"msg": "Database error querying schema"})
	})

	_, err := provider.SignInWithPassword(context.Background(), "ana@example.com", "secret123")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, authstate.TextCodeProviderRequest, rich.TextCode)
	assert.Equal(t, "Database error querying schema", rich.Message)
	assert.Equal(t, http.StatusInternalServerError, rich.Metadata["status"])
	assert.Equal(t, "token_password", rich.Metadata["operation"])
	assert.Equal(t, "Database error querying schema", authstate.ErrorMessage(err))
}

func TestProviderSignUp(t *testing.T) {
	t.Run("already registered", func(t *testing.T) {
		provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/signup", r.URL.Path)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"code":       422,
				"error_code": "user_already_exists",
				"msg":        "User already registered",
			})
		})

		_, err := provider.SignUp(context.Background(), "ana@example.com", "secret123")
		assert.ErrorIs(t, err, authstate.ErrEmailRegistered)
	})

	t.Run("awaiting confirmation", func(t *testing.T) {
		provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, userJSON("u2", "bea@example.com", ""))
		})

		session, err := provider.SignUp(context.Background(), "bea@example.com", "secret123")
		assert.NoError(t, err)
		assert.Nil(t, session)
		assert.Nil(t, provider.CurrentSession())
	})

	t.Run("auto confirmed", func(t *testing.T) {
		provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			assert.Equal(t, "bea@example.com", body["email"])
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-2",
				"refresh_token": "refresh-2",
				"expires_at":    time.Now().Add(time.Hour).Unix(),
				"user":          userJSON("u2", "bea@example.com", ""),
			})
		})

		events, unsubscribe := provider.OnAuthStateChange()
		defer unsubscribe()

		session, err := provider.SignUp(context.Background(), "bea@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, "u2", session.UserID())
		assert.Equal(t, authstate.EventSignedIn, nextEvent(t, events).Kind)
	})
}

type tokenServer struct {
	mu            sync.Mutex
	refreshes     int
	expiresIn     int
	rejectRefresh bool
}

func (s *tokenServer) refreshCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *tokenServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		switch r.URL.Path {
		case "/auth/v1/token":
			if r.URL.Query().Get("grant_type") == "refresh_token" {
				if s.rejectRefresh {
					writeJSON(w, http.StatusBadRequest, map[string]any{
						"error":             "invalid_grant",
						"error_description": "Invalid Refresh Token: Refresh Token Not Found",
					})
					return
				}
				s.refreshes++
				body := decodeBody(t, r)
				assert.NotEmpty(t, body["refresh_token"])
				writeJSON(w, http.StatusOK, map[string]any{
					"access_token":  "access-refreshed",
					"refresh_token": "refresh-rotated",
					"expires_in":    3600,
					"user":          userJSON("u1", "ana@example.com", "paciente"),
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "access-1",
				"refresh_token": "refresh-1",
				"expires_in":    s.expiresIn,
				"user":          userJSON("u1", "ana@example.com", "paciente"),
			})
		case "/auth/v1/logout":
			assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusNoContent)
		case "/auth/v1/user":
			assert.Equal(t, http.MethodPut, r.Method)
			body := decodeBody(t, r)
			data, _ := body["data"].(map[string]any)
			user := userJSON("u1", "ana@example.com", "paciente")
			meta := user["user_metadata"].(map[string]any)
			for k, v := range data {
				meta[k] = v
			}
			writeJSON(w, http.StatusOK, user)
		default:
			http.NotFound(w, r)
		}
	}
}

func TestProviderRefresh(t *testing.T) {
	ts := &tokenServer{expiresIn: 3600}
	provider, _ := newTestProvider(t, ts.handler(t))
	ctx := context.Background()

	_, err := provider.Refresh(ctx)
	assert.ErrorIs(t, err, authstate.ErrNoSession)

	_, err = provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	session, err := provider.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", session.AccessToken)
	assert.Equal(t, "refresh-rotated", session.RefreshToken)

	event := nextEvent(t, events)
	assert.Equal(t, authstate.EventTokenRefreshed, event.Kind)
	assert.Equal(t, session, event.Session)
}

func TestProviderGetSessionRefreshesExpired(t *testing.T) {
	ts := &tokenServer{expiresIn: 60}
	provider, _ := newTestProvider(t, ts.handler(t))
	now := time.Now()
	provider.WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	session, err := provider.GetSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", session.AccessToken)
	assert.Equal(t, 1, ts.refreshCount())
}

func TestProviderGetSessionDropsRejectedRefresh(t *testing.T) {
	ts := &tokenServer{expiresIn: 60, rejectRefresh: true}
	provider, _ := newTestProvider(t, ts.handler(t))
	now := time.Now()
	provider.WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, err := provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	now = now.Add(2 * time.Minute)
	session, err := provider.GetSession(ctx)
	assert.NoError(t, err)
	assert.Nil(t, session)
	assert.Equal(t, authstate.EventSignedOut, nextEvent(t, events).Kind)
	assert.Equal(t, testAnonKey, provider.AccessToken())
}

func TestProviderAutoRefresh(t *testing.T) {
	ts := &tokenServer{expiresIn: 30}
	provider, _ := newTestProvider(t, ts.handler(t))
	ctx := context.Background()

	_, err := provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	stop := provider.StartAutoRefresh(ctx, 5*time.Millisecond, time.Minute)
	defer stop()

	event := nextEvent(t, events)
	assert.Equal(t, authstate.EventTokenRefreshed, event.Kind)
	assert.Equal(t, "access-refreshed", event.Session.AccessToken)
}

func TestProviderSignOut(t *testing.T) {
	ts := &tokenServer{expiresIn: 3600}
	provider, _ := newTestProvider(t, ts.handler(t))
	ctx := context.Background()

	_, err := provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	require.NoError(t, provider.SignOut(ctx))
	assert.Equal(t, authstate.EventSignedOut, nextEvent(t, events).Kind)
	assert.Nil(t, provider.CurrentSession())
}

func TestProviderUpdateUser(t *testing.T) {
	ts := &tokenServer{expiresIn: 3600}
	provider, _ := newTestProvider(t, ts.handler(t))
	ctx := context.Background()

	_, err := provider.UpdateUser(ctx, map[string]any{"theme": "dark"})
	assert.ErrorIs(t, err, authstate.ErrNoSession)

	_, err = provider.SignInWithPassword(ctx, "ana@example.com", "secret123")
	require.NoError(t, err)

	events, unsubscribe := provider.OnAuthStateChange()
	defer unsubscribe()

	user, err := provider.UpdateUser(ctx, map[string]any{"full_name": "Ana Ruiz"})
	require.NoError(t, err)
	assert.Equal(t, "Ana Ruiz", user.Metadata["full_name"])

	event := nextEvent(t, events)
	assert.Equal(t, authstate.EventUserUpdated, event.Kind)
	assert.Equal(t, "access-1", event.Session.AccessToken)
	assert.Equal(t, "Ana Ruiz", event.Session.User.Metadata["full_name"])
}

func TestProviderExpiryFromTokenClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	provider, _ := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  token,
			"refresh_token": "refresh-1",
			"user":          userJSON("u1", "ana@example.com", ""),
		})
	})

	session, err := provider.SignInWithPassword(context.Background(), "ana@example.com", "secret123")
	require.NoError(t, err)
	require.NotNil(t, session.ExpiresAt)
	assert.True(t, exp.Equal(*session.ExpiresAt))
}
