package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
)

const (
	authPath = "/auth/v1"
	restPath = "/rest/v1"
)

// Config holds the hosted backend settings
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co
	URL string
	// AnonKey is sent as apikey on every request
	AnonKey string

	HTTPClient *http.Client
}

// Provider implements authstate.AuthProvider against a GoTrue compatible
// auth API. Like the browser client it holds one session and emits auth
// events for every change of it.
type Provider struct {
	config     Config
	httpClient *http.Client
	bus        *authstate.EventBus
	verifier   Verifier
	now        func() time.Time
	logger     authstate.Logger

	mu      sync.Mutex
	session *authstate.Session
}

// New creates a new GoTrue provider.
func New(cfg Config) *Provider {
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		config:     cfg,
		httpClient: client,
		bus:        authstate.NewEventBus(0),
		now:        time.Now,
		logger:     authstate.DefaultLogger(),
	}
}

func (p *Provider) WithLogger(logger authstate.Logger) *Provider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithVerifier checks every access token received from the server
func (p *Provider) WithVerifier(v Verifier) *Provider {
	p.verifier = v
	return p
}

// WithClock injects a custom clock (useful for tests).
func (p *Provider) WithClock(clock func() time.Time) *Provider {
	if clock != nil {
		p.now = clock
	}
	return p
}

// OnAuthStateChange implements authstate.AuthProvider.
func (p *Provider) OnAuthStateChange() (<-chan authstate.AuthEvent, func()) {
	return p.bus.Subscribe()
}

// CurrentSession returns the session held by the provider
func (p *Provider) CurrentSession() *authstate.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// AccessToken returns the current access token or the anon key, the
// bearer PostgREST expects for the session user.
func (p *Provider) AccessToken() string {
	if s := p.CurrentSession(); s != nil && s.AccessToken != "" {
		return s.AccessToken
	}
	return p.config.AnonKey
}

// GetSession implements authstate.AuthProvider. An expired session is
// refreshed, a failed refresh drops it.
func (p *Provider) GetSession(ctx context.Context) (*authstate.Session, error) {
	session := p.CurrentSession()
	if session == nil {
		return nil, nil
	}
	if !session.Expired(p.now()) {
		return session, nil
	}

	refreshed, err := p.Refresh(ctx)
	if err != nil {
		p.logger.Warn("gotrue: session expired and refresh failed: %v", err)
		p.drop()
		return nil, nil
	}
	return refreshed, nil
}

// SetSession restores a session persisted elsewhere, e.g. a refresh token
// kept between process runs. It emits SIGNED_IN.
func (p *Provider) SetSession(ctx context.Context, refreshToken string) (*authstate.Session, error) {
	session, err := p.grant(ctx, "refresh_token", map[string]any{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}
	p.store(session)
	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: session})
	return session, nil
}

// SignInWithPassword implements authstate.AuthProvider.
func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*authstate.Session, error) {
	session, err := p.grant(ctx, "password", map[string]any{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	p.store(session)
	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: session})
	return session, nil
}

// SignUp implements authstate.AuthProvider. When the project requires email
// confirmation the server returns the user only and the session is nil.
func (p *Provider) SignUp(ctx context.Context, email, password string) (*authstate.Session, error) {
	body, status, err := p.do(ctx, http.MethodPost, authPath+"/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"data":     map[string]any{},
	})
	if err != nil {
		return nil, providerError("signup", status, "", "", err)
	}
	if status >= http.StatusBadRequest {
		code, desc := parseAPIError(body)
		return nil, providerError("signup", status, code, desc, nil)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providerError("signup", status, "invalid_response", "failed to decode signup response", err)
	}

	if resp.AccessToken == "" {
		p.logger.Info("gotrue: signup for %s awaits email confirmation", email)
		return nil, nil
	}

	session, err := p.toSession(resp)
	if err != nil {
		return nil, err
	}

	p.store(session)
	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedIn, Session: session})
	return session, nil
}

// SignOut implements authstate.AuthProvider. The local session is dropped
// even when the server call fails.
func (p *Provider) SignOut(ctx context.Context) error {
	session := p.CurrentSession()
	defer p.drop()

	if session == nil {
		return nil
	}

	body, status, err := p.do(ctx, http.MethodPost, authPath+"/logout", session.AccessToken, nil)
	if err != nil {
		return providerError("logout", status, "", "", err)
	}
	// an already revoked session is signed out too
	if status >= http.StatusBadRequest && status != http.StatusUnauthorized && status != http.StatusNotFound {
		code, desc := parseAPIError(body)
		return providerError("logout", status, code, desc, nil)
	}
	return nil
}

// Refresh exchanges the refresh token for a new session and emits
// TOKEN_REFRESHED.
func (p *Provider) Refresh(ctx context.Context) (*authstate.Session, error) {
	current := p.CurrentSession()
	if current == nil || current.RefreshToken == "" {
		return nil, authstate.ErrNoSession
	}

	session, err := p.grant(ctx, "refresh_token", map[string]any{
		"refresh_token": current.RefreshToken,
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.session != current {
		p.mu.Unlock()
		return nil, authstate.ErrNoSession
	}
	p.session = session
	p.mu.Unlock()

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventTokenRefreshed, Session: session})
	return session, nil
}

// UpdateUser merges metadata into the user and emits USER_UPDATED
func (p *Provider) UpdateUser(ctx context.Context, metadata map[string]any) (*authstate.User, error) {
	current := p.CurrentSession()
	if current == nil {
		return nil, authstate.ErrNoSession
	}

	body, status, err := p.do(ctx, http.MethodPut, authPath+"/user", current.AccessToken, map[string]any{
		"data": metadata,
	})
	if err != nil {
		return nil, providerError("update_user", status, "", "", err)
	}
	if status >= http.StatusBadRequest {
		code, desc := parseAPIError(body)
		return nil, providerError("update_user", status, code, desc, nil)
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, providerError("update_user", status, "invalid_response", "failed to decode user response", err)
	}

	updated := *current
	updated.User = user.toUser()

	p.mu.Lock()
	if p.session != current {
		p.mu.Unlock()
		return nil, authstate.ErrNoSession
	}
	p.session = &updated
	p.mu.Unlock()

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventUserUpdated, Session: &updated})
	return updated.User, nil
}

// StartAutoRefresh refreshes the session every interval when it expires
// within margin. The returned function stops the loop.
func (p *Provider) StartAutoRefresh(ctx context.Context, interval, margin time.Duration) func() {
	return authstate.AutoRefresh(ctx, p, interval, margin, p.now, func(err error) {
		p.logger.Warn("gotrue: auto refresh failed: %v", err)
		if isRejected(err) {
			p.drop()
		}
	})
}

// isRejected reports whether the server refused the refresh token, as
// opposed to a transport failure worth retrying on the next tick
func isRejected(err error) bool {
	if err == authstate.ErrInvalidCredentials {
		return true
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata == nil {
		return false
	}
	status, _ := rich.Metadata["status"].(int)
	return status == http.StatusBadRequest || status == http.StatusUnauthorized
}

func (p *Provider) grant(ctx context.Context, grantType string, payload map[string]any) (*authstate.Session, error) {
	operation := "token_" + grantType
	body, status, err := p.do(ctx, http.MethodPost, authPath+"/token?grant_type="+grantType, "", payload)
	if err != nil {
		return nil, providerError(operation, status, "", "", err)
	}
	if status != http.StatusOK {
		code, desc := parseAPIError(body)
		return nil, providerError(operation, status, code, desc, nil)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, providerError(operation, status, "invalid_response", "failed to decode token response", err)
	}
	if resp.AccessToken == "" {
		return nil, providerError(operation, status, "missing_access_token", "missing access token", nil)
	}

	return p.toSession(resp)
}

func (p *Provider) toSession(resp tokenResponse) (*authstate.Session, error) {
	if p.verifier != nil {
		if _, err := p.verifier.Verify(resp.AccessToken); err != nil {
			p.logger.Error("gotrue: rejected access token: %v", err)
			return nil, err
		}
	}

	session := &authstate.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	if resp.User != nil {
		session.User = resp.User.toUser()
	}

	switch {
	case resp.ExpiresAt > 0:
		exp := time.Unix(resp.ExpiresAt, 0)
		session.ExpiresAt = &exp
	case resp.ExpiresIn > 0:
		exp := p.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
		session.ExpiresAt = &exp
	default:
		if claims, err := unverifiedClaims(resp.AccessToken); err == nil && claims.ExpiresAt != nil {
			exp := claims.ExpiresAt.Time
			session.ExpiresAt = &exp
		}
	}

	return session, nil
}

func (p *Provider) store(session *authstate.Session) {
	p.mu.Lock()
	p.session = session
	p.mu.Unlock()
}

func (p *Provider) drop() {
	p.mu.Lock()
	p.session = nil
	p.mu.Unlock()

	p.bus.Publish(authstate.AuthEvent{Kind: authstate.EventSignedOut})
}

// do sends a JSON request and returns the raw body and status
func (p *Provider) do(ctx context.Context, method, path, bearer string, payload any) ([]byte, int, error) {
	return doJSON(ctx, p.httpClient, p.config, method, path, bearer, payload, nil)
}

func doJSON(ctx context.Context, client *http.Client, cfg Config, method, path, bearer string, payload any, headers map[string]string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL+path, reader)
	if err != nil {
		return nil, 0, err
	}
	if bearer == "" {
		bearer = cfg.AnonKey
	}
	req.Header.Set("apikey", cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    *time.Time     `json:"created_at"`
	UpdatedAt    *time.Time     `json:"updated_at"`
}

func (u *userResponse) toUser() *authstate.User {
	if u == nil {
		return nil
	}
	return &authstate.User{
		ID:        u.ID,
		Email:     u.Email,
		Metadata:  u.UserMetadata,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
