package csrf

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSecureKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newTestApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(New(cfg))
	app.Get("/form", func(c *fiber.Ctx) error {
		return c.SendString(Token(c))
	})
	app.Post("/form", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func fetchToken(t *testing.T, app *fiber.App) string {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/form", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	return string(body)
}

func postForm(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()
	form := url.Values{"email": {"ana@example.com"}}
	if token != "" {
		form.Set(DefaultFormFieldName, token)
	}
	req := httptest.NewRequest(http.MethodPost, "/form", strings.NewReader(form.Encode()))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestStatelessTokenValidationSuccess(t *testing.T) {
	app := newTestApp(Config{SecureKey: newTestSecureKey()})

	token := fetchToken(t, app)
	resp := postForm(t, app, token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenFromHeader(t *testing.T) {
	app := newTestApp(Config{SecureKey: newTestSecureKey()})
	token := fetchToken(t, app)

	req := httptest.NewRequest(http.MethodPost, "/form", nil)
	req.Header.Set(DefaultHeaderName, token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatelessTokenValidationMismatch(t *testing.T) {
	var captured error
	app := newTestApp(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			captured = err
			return c.SendStatus(http.StatusForbidden)
		},
	})

	resp := postForm(t, app, "tampered")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.ErrorIs(t, captured, ErrTokenMismatch)
}

func TestTokenSignedWithAnotherKey(t *testing.T) {
	other := newTestApp(Config{SecureKey: []byte("ffffffffffffffffffffffffffffffff")})
	app := newTestApp(Config{SecureKey: newTestSecureKey()})

	resp := postForm(t, app, fetchToken(t, other))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMissingToken(t *testing.T) {
	app := newTestApp(Config{SecureKey: newTestSecureKey()})

	resp := postForm(t, app, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["error"])
}

func TestStatelessTokenExpiration(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	var captured error
	app := newTestApp(Config{
		SecureKey:  newTestSecureKey(),
		Expiration: time.Minute,
		Now:        func() time.Time { return now },
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			captured = err
			return c.SendStatus(http.StatusForbidden)
		},
	})

	token := fetchToken(t, app)
	now = now.Add(2 * time.Minute)

	resp := postForm(t, app, token)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.ErrorIs(t, captured, ErrTokenExpired)

	var richErr *errors.Error
	require.True(t, errors.As(captured, &richErr))
	assert.Equal(t, "CSRF_TOKEN_EXPIRED", richErr.TextCode)
}

func TestSkip(t *testing.T) {
	app := newTestApp(Config{
		SecureKey: newTestSecureKey(),
		Skip: func(c *fiber.Ctx) bool {
			return c.Get("X-Internal") == "1"
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/form", nil)
	req.Header.Set("X-Internal", "1")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestShortSecureKeyPanics(t *testing.T) {
	require.Panics(t, func() {
		New(Config{SecureKey: []byte("short")})
	})
}

func TestRegisterRoutes(t *testing.T) {
	app := fiber.New()
	app.Use(New(Config{SecureKey: newTestSecureKey()}))
	RegisterRoutes(app, "", Config{SecureKey: newTestSecureKey()})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/csrf", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, DefaultFormFieldName, body["field_name"])
	assert.Equal(t, DefaultHeaderName, body["header"])
}

func TestRegisterRoutesWithoutMiddleware(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app, "/token")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/token", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
