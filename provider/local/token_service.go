package local

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Claims mirrors the access token layout of hosted auth services so the
// metadata resolver can read the role hint out of user_metadata.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// TokenService signs and validates HS256 access tokens
type TokenService struct {
	signingKey      []byte
	tokenExpiration time.Duration
	issuer          string
	audience        jwt.ClaimStrings
	now             func() time.Time
	logger          authstate.Logger
}

// NewTokenService creates a new TokenService from the provider config
func NewTokenService(cfg Config, logger authstate.Logger) *TokenService {
	if logger == nil {
		logger = authstate.DefaultLogger()
	}
	return &TokenService{
		signingKey:      []byte(cfg.GetSigningKey()),
		tokenExpiration: time.Duration(cfg.GetTokenExpiration()) * time.Hour,
		issuer:          cfg.GetIssuer(),
		audience:        jwt.ClaimStrings(cfg.GetAudience()),
		now:             time.Now,
		logger:          logger,
	}
}

// WithClock injects a custom clock (useful for tests).
func (ts *TokenService) WithClock(clock func() time.Time) *TokenService {
	if clock != nil {
		ts.now = clock
	}
	return ts
}

// Generate creates an access token for the user and returns its expiration
func (ts *TokenService) Generate(user *authstate.User) (string, time.Time, error) {
	if user == nil {
		return "", time.Time{}, errors.New("user must not be nil", errors.CategoryInternal)
	}

	now := ts.now()
	expiresAt := now.Add(ts.tokenExpiration)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:        user.Email,
		Role:         "authenticated",
		UserMetadata: user.Metadata,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates a token string
func (ts *TokenService) Validate(tokenString string) (*Claims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token service: unexpected signing method %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, authstate.ErrTokenExpired
		}
		return nil, errors.Wrap(err, authstate.ErrTokenMalformed.Category, authstate.ErrTokenMalformed.Message).
			WithTextCode(authstate.ErrTokenMalformed.TextCode)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if !ts.acceptsAudience(claims.Audience) {
			ts.logger.Debug("token service: audience %v not accepted", claims.Audience)
			return nil, errors.Wrap(jwt.ErrTokenInvalidAudience, authstate.ErrTokenMalformed.Category, authstate.ErrTokenMalformed.Message).
				WithTextCode(authstate.ErrTokenMalformed.TextCode)
		}
		return claims, nil
	}

	ts.logger.Error("token service: could not decode or validate claims")
	return nil, authstate.ErrTokenMalformed
}

// acceptsAudience reports whether aud names any configured audience. Without
// a configured audience every token is accepted.
func (ts *TokenService) acceptsAudience(aud jwt.ClaimStrings) bool {
	if len(ts.audience) == 0 {
		return true
	}
	for _, want := range ts.audience {
		for _, got := range aud {
			if got == want {
				return true
			}
		}
	}
	return false
}
