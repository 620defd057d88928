// Package csrf protects the portal form posts with stateless HMAC signed
// tokens bound to the client.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
)

// ErrTokenMismatch is returned for a forged, tampered or foreign token
var ErrTokenMismatch = errors.New("CSRF token mismatch", errors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_MISMATCH").
	WithCode(errors.CodeForbidden)

var ErrTokenMissing = errors.New("CSRF token missing", errors.CategoryBadInput).
	WithTextCode("CSRF_TOKEN_MISSING").
	WithCode(errors.CodeBadRequest)

var ErrTokenExpired = errors.New("CSRF token expired", errors.CategoryAuthz).
	WithTextCode("CSRF_TOKEN_EXPIRED").
	WithCode(errors.CodeForbidden)

// DefaultTokenLength is the nonce length in bytes
const DefaultTokenLength = 32

// DefaultContextKey is the Locals key holding the request token
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the form field carrying the token
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header carrying the token
const DefaultHeaderName = "X-CSRF-Token"

// Config defines the configuration for the CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(*fiber.Ctx) bool

	TokenLength int

	// ContextKey defines the Locals key for the token
	ContextKey string

	FormFieldName string

	HeaderName string

	// TokenLookup defines where to look for the token
	// Format: "form:_token,header:X-CSRF-Token"
	TokenLookup string

	ErrorHandler fiber.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long tokens are valid
	Expiration time.Duration

	// SecureKey signs the tokens, at least 32 bytes. A random key is
	// generated when empty, so tokens do not survive a restart.
	SecureKey []byte

	// Now is the clock used to stamp and expire tokens
	Now func() time.Time
}

// TokenExtractor defines a function to extract token from request
type TokenExtractor func(*fiber.Ctx) string

// New creates a new CSRF middleware. Every request gets a fresh token in
// Locals, unsafe methods must present a valid one.
func New(config ...Config) fiber.Handler {
	cfg := configDefault(config...)
	extractors := getExtractors(cfg.TokenLookup, cfg.FormFieldName, cfg.HeaderName)

	return func(c *fiber.Ctx) error {
		if cfg.Skip != nil && cfg.Skip(c) {
			return c.Next()
		}

		token, err := generateToken(c, cfg)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		c.Locals(cfg.ContextKey, token)
		c.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
		c.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

		method := strings.ToUpper(c.Method())
		if slices.Contains(cfg.SafeMethods, method) {
			return c.Next()
		}

		if err := validateToken(c, cfg, extractToken(c, extractors)); err != nil {
			return cfg.ErrorHandler(c, err)
		}

		return c.Next()
	}
}

// Token returns the token the middleware stored for the request
func Token(c *fiber.Ctx, contextKey ...string) string {
	key := DefaultContextKey
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	token, _ := c.Locals(key).(string)
	return token
}

func generateToken(c *fiber.Ctx, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "unable to generate CSRF nonce")
	}

	payload := fmt.Sprintf("%d:%s:%s", cfg.Now().UTC().Unix(), hex.EncodeToString(nonce), clientKey(c))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func validateToken(c *fiber.Ctx, cfg Config, token string) error {
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestampStr, nonceHex, keyFromToken, signatureHex := parts[0], parts[1], parts[2], parts[3]

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	if _, err := hex.DecodeString(nonceHex); err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(keyFromToken), []byte(clientKey(c))) != 1 {
		return ErrTokenMismatch
	}

	if cfg.Expiration > 0 {
		expiresAt := time.Unix(timestamp, 0).Add(cfg.Expiration)
		if cfg.Now().UTC().After(expiresAt) {
			return ErrTokenExpired
		}
	}

	return nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// clientKey binds a token to the user when known, to the client IP otherwise
func clientKey(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok && id != "" {
		return "user_" + id
	}
	return "ip_" + c.IP()
}

func extractToken(c *fiber.Ctx, extractors []TokenExtractor) string {
	for _, extractor := range extractors {
		if token := extractor(c); token != "" {
			return token
		}
	}
	return ""
}

func getExtractors(tokenLookup, formField, header string) []TokenExtractor {
	if tokenLookup == "" {
		return []TokenExtractor{
			extractorFromForm(formField),
			extractorFromHeader(header),
		}
	}

	var extractors []TokenExtractor
	for _, part := range strings.Split(tokenLookup, ",") {
		part = strings.TrimSpace(part)
		if field, ok := strings.CutPrefix(part, "form:"); ok {
			extractors = append(extractors, extractorFromForm(field))
		} else if name, ok := strings.CutPrefix(part, "header:"); ok {
			extractors = append(extractors, extractorFromHeader(name))
		}
	}
	return extractors
}

func extractorFromForm(fieldName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.FormValue(fieldName)
	}
}

func extractorFromHeader(headerName string) TokenExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

func configDefault(config ...Config) Config {
	var cfg Config
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}

	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}

	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}

	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions, fiber.MethodTrace}
	}

	if cfg.Expiration == 0 {
		cfg.Expiration = 24 * time.Hour
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)
	return cfg
}

func defaultErrorHandler(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code != 0 {
		status = richErr.Code
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}

// RegisterRoutes mounts a GET endpoint on path returning the request token
// and where to send it. The middleware must run before it.
func RegisterRoutes(app fiber.Router, path string, config ...Config) {
	cfg := configDefault(config...)
	if path == "" {
		path = "/csrf"
	}
	app.Get(path, func(c *fiber.Ctx) error {
		token := Token(c, cfg.ContextKey)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": ErrTokenMissing.Error()})
		}
		return c.JSON(fiber.Map{
			"token":      token,
			"field_name": cfg.FormFieldName,
			"header":     cfg.HeaderName,
		})
	})
}
