package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-authstate"
)

// TokenSource yields the bearer sent to the REST API. *Provider implements it.
type TokenSource interface {
	AccessToken() string
}

// ProfileStore implements authstate.ProfileStore over the PostgREST
// profiles table of the hosted backend.
type ProfileStore struct {
	config     Config
	httpClient *http.Client
	tokens     TokenSource
	table      string
}

// NewProfileStore reads profiles with the session of tokens, the anon key
// is used when tokens is nil.
func NewProfileStore(cfg Config, tokens TokenSource) *ProfileStore {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ProfileStore{
		config:     cfg,
		httpClient: client,
		tokens:     tokens,
		table:      "profiles",
	}
}

// WithTable overrides the table name
func (s *ProfileStore) WithTable(table string) *ProfileStore {
	if table != "" {
		s.table = table
	}
	return s
}

// FindProfileByID implements authstate.ProfileStore.
func (s *ProfileStore) FindProfileByID(ctx context.Context, id string) (*authstate.UserProfile, error) {
	query := url.Values{
		"id":     {"eq." + id},
		"select": {"*"},
	}

	body, status, err := doJSON(ctx, s.httpClient, s.config, http.MethodGet,
		restPath+"/"+s.table+"?"+query.Encode(), s.bearer(), nil, nil)
	if err != nil {
		return nil, providerError("select_profile", status, "", "", err)
	}
	if status != http.StatusOK {
		code, desc := parseAPIError(body)
		return nil, providerError("select_profile", status, code, desc, nil)
	}

	return firstProfile(body, status, "select_profile")
}

// UpdateProfile implements authstate.ProfileStore.
func (s *ProfileStore) UpdateProfile(ctx context.Context, profile *authstate.UserProfile) (*authstate.UserProfile, error) {
	if profile == nil || profile.ID == "" {
		return nil, authstate.ErrProfileNotFound
	}

	query := url.Values{"id": {"eq." + profile.ID}}
	payload := map[string]any{
		"email":      profile.Email,
		"role":       profile.Role,
		"updated_at": time.Now().UTC(),
	}

	body, status, err := doJSON(ctx, s.httpClient, s.config, http.MethodPatch,
		restPath+"/"+s.table+"?"+query.Encode(), s.bearer(), payload,
		map[string]string{"Prefer": "return=representation"})
	if err != nil {
		return nil, providerError("update_profile", status, "", "", err)
	}
	if status != http.StatusOK {
		code, desc := parseAPIError(body)
		return nil, providerError("update_profile", status, code, desc, nil)
	}

	return firstProfile(body, status, "update_profile")
}

func (s *ProfileStore) bearer() string {
	if s.tokens == nil {
		return ""
	}
	return s.tokens.AccessToken()
}

func firstProfile(body []byte, status int, operation string) (*authstate.UserProfile, error) {
	var rows []*authstate.UserProfile
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, providerError(operation, status, "invalid_response", "failed to decode profiles response", err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, authstate.ErrProfileNotFound
	}
	return rows[0], nil
}
