package gotrue

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate"
)

// Claims is the access token layout issued by GoTrue
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Verifier checks the signature and registered claims of an access token
type Verifier interface {
	Verify(token string) (*Claims, error)
}

// KeyfuncVerifier verifies tokens with a jwt.Keyfunc
type KeyfuncVerifier struct {
	keyfunc  jwt.Keyfunc
	methods  []string
	issuer   string
	audience string
	now      func() time.Time
	closer   func()
}

// NewJWKSVerifier fetches the key set from jwksURL and keeps it refreshed
// in the background. Call Close to stop the refresh goroutine.
func NewJWKSVerifier(jwksURL string, logger authstate.Logger) (*KeyfuncVerifier, error) {
	if logger == nil {
		logger = authstate.DefaultLogger()
	}

	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Warn("gotrue: failed to do a background refresh of JWT set: %v", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gotrue: failed to get JWK set: %w", err)
	}

	return &KeyfuncVerifier{
		keyfunc: jwks.Keyfunc,
		methods: []string{"RS256", "ES256"},
		now:     time.Now,
		closer:  jwks.EndBackground,
	}, nil
}

// NewHMACVerifier verifies tokens signed with the project JWT secret
func NewHMACVerifier(secret string) *KeyfuncVerifier {
	key := []byte(secret)
	return &KeyfuncVerifier{
		keyfunc: func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		},
		methods: []string{"HS256"},
		now:     time.Now,
	}
}

// WithIssuer requires the iss claim
func (v *KeyfuncVerifier) WithIssuer(issuer string) *KeyfuncVerifier {
	v.issuer = issuer
	return v
}

// WithAudience requires the aud claim, GoTrue uses "authenticated"
func (v *KeyfuncVerifier) WithAudience(audience string) *KeyfuncVerifier {
	v.audience = audience
	return v
}

// WithClock injects a custom clock (useful for tests).
func (v *KeyfuncVerifier) WithClock(clock func() time.Time) *KeyfuncVerifier {
	if clock != nil {
		v.now = clock
	}
	return v
}

// Verify implements Verifier.
func (v *KeyfuncVerifier) Verify(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.keyfunc, opts...)
	if err != nil {
		return nil, normalizeValidationError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, authstate.ErrTokenMalformed
	}
	return claims, nil
}

// Close stops the background key refresh, if any
func (v *KeyfuncVerifier) Close() {
	if v.closer != nil {
		v.closer()
	}
}

// unverifiedClaims reads the claims without checking the signature. Used
// only to learn the expiry of tokens received straight from the auth server.
func unverifiedClaims(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, normalizeValidationError(err)
	}
	return claims, nil
}

func normalizeValidationError(err error) error {
	if err == nil {
		return nil
	}

	clone := authstate.ErrTokenMalformed.Clone()
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		clone = authstate.ErrTokenExpired.Clone()
	}

	if clone == nil {
		return err
	}

	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"provider": "gotrue",
		"cause":    err.Error(),
	})
}
