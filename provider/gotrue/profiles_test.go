package gotrue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens string

func (s staticTokens) AccessToken() string { return string(s) }

func newTestProfileStore(t *testing.T, tokens TokenSource, handler http.HandlerFunc) *ProfileStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewProfileStore(Config{
		URL:        server.URL,
		AnonKey:    testAnonKey,
		HTTPClient: server.Client(),
	}, tokens)
}

func TestProfileStoreFindProfileByID(t *testing.T) {
	store := newTestProfileStore(t, staticTokens("user-token"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, testAnonKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer user-token", r.Header.Get("Authorization"))

		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":    "u1",
			"email": "ana@example.com",
			"role":  "especialista",
		}})
	})

	profile, err := store.FindProfileByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", profile.ID)
	assert.Equal(t, "ana@example.com", profile.Email)
	assert.Equal(t, authstate.RoleEspecialista, profile.Role)
}

func TestProfileStoreFindProfileNotFound(t *testing.T) {
	store := newTestProfileStore(t, nil, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testAnonKey, r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, []map[string]any{})
	})

	_, err := store.FindProfileByID(context.Background(), "missing")
	assert.ErrorIs(t, err, authstate.ErrProfileNotFound)
}

func TestProfileStoreFindProfileServerError(t *testing.T) {
	store := newTestProfileStore(t, nil, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"code":    "PGRST301",
			"message": "JWT expired",
		})
	})

	_, err := store.FindProfileByID(context.Background(), "u1")
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, authstate.TextCodeProviderRequest, rich.TextCode)
	assert.Equal(t, "JWT expired", rich.Message)
	assert.Equal(t, "PGRST301", rich.Metadata["code"])
	assert.Equal(t, "select_profile", rich.Metadata["operation"])
}

func TestProfileStoreUpdateProfile(t *testing.T) {
	store := newTestProfileStore(t, staticTokens("user-token"), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rest/v1/perfiles", r.URL.Path)
		assert.Equal(t, "eq.u1", r.URL.Query().Get("id"))
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		body := decodeBody(t, r)
		assert.Equal(t, "admin", body["role"])
		assert.NotEmpty(t, body["updated_at"])

		writeJSON(w, http.StatusOK, []map[string]any{{
			"id":    "u1",
			"email": "ana@example.com",
			"role":  "admin",
		}})
	}).WithTable("perfiles")

	profile, err := store.UpdateProfile(context.Background(), &authstate.UserProfile{
		ID:    "u1",
		Email: "ana@example.com",
		Role:  authstate.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, authstate.RoleAdmin, profile.Role)

	_, err = store.UpdateProfile(context.Background(), nil)
	assert.ErrorIs(t, err, authstate.ErrProfileNotFound)
}
