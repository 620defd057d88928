package local_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/provider/local"
	"github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_GenerateAndValidate(t *testing.T) {
	service := local.NewTokenService(testConfig(), nopLogger{})
	user := &authstate.User{
		ID:       "u1",
		Email:    "ana@example.com",
		Metadata: map[string]any{"role": authstate.RoleEspecialista},
	}

	token, expiresAt, err := service.Generate(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := service.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "ana@example.com", claims.Email)
	assert.Equal(t, "portal-test", claims.Issuer)
	assert.Equal(t, string(authstate.RoleEspecialista), claims.UserMetadata["role"])
	assert.NotEmpty(t, claims.ID)
}

func TestTokenService_GenerateNilUser(t *testing.T) {
	service := local.NewTokenService(testConfig(), nopLogger{})
	_, _, err := service.Generate(nil)
	assert.Error(t, err)
}

func TestTokenService_ValidateExpired(t *testing.T) {
	now := time.Now()
	service := local.NewTokenService(testConfig(), nopLogger{}).
		WithClock(func() time.Time { return now })

	token, _, err := service.Generate(&authstate.User{ID: "u1"})
	require.NoError(t, err)

	later := local.NewTokenService(testConfig(), nopLogger{}).
		WithClock(func() time.Time { return now.Add(2 * time.Hour) })
	_, err = later.Validate(token)
	assert.ErrorIs(t, err, authstate.ErrTokenExpired)
}

func TestTokenService_ValidateWrongKey(t *testing.T) {
	token, _, err := local.NewTokenService(testConfig(), nopLogger{}).Generate(&authstate.User{ID: "u1"})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.SigningKey = "another-key"
	_, err = local.NewTokenService(cfg, nopLogger{}).Validate(token)
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, authstate.TextCodeTokenMalformed, richErr.TextCode)
}

func TestTokenService_ValidateWrongAudience(t *testing.T) {
	token, _, err := local.NewTokenService(testConfig(), nopLogger{}).Generate(&authstate.User{ID: "u1"})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Audience = []string{"admin-panel"}
	_, err = local.NewTokenService(cfg, nopLogger{}).Validate(token)
	require.Error(t, err)

	var richErr *errors.Error
	require.True(t, errors.As(err, &richErr))
	assert.Equal(t, authstate.TextCodeTokenMalformed, richErr.TextCode)
}

func TestTokenService_ValidateAnyConfiguredAudience(t *testing.T) {
	token, _, err := local.NewTokenService(testConfig(), nopLogger{}).Generate(&authstate.User{ID: "u1"})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Audience = []string{"admin-panel", "portal"}
	claims, err := local.NewTokenService(cfg, nopLogger{}).Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)

	cfg.Audience = nil
	_, err = local.NewTokenService(cfg, nopLogger{}).Validate(token)
	assert.NoError(t, err)
}

func TestTokenService_MultipleAudiencesRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.Audience = []string{"portal", "mobile"}
	service := local.NewTokenService(cfg, nopLogger{})

	token, _, err := service.Generate(&authstate.User{ID: "u1"})
	require.NoError(t, err)

	claims, err := service.Validate(token)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"portal", "mobile"}, []string(claims.Audience))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := local.HashPassword("secret123", 4)
	require.NoError(t, err)

	assert.NoError(t, local.ComparePasswordAndHash("secret123", hash))
	assert.ErrorIs(t, local.ComparePasswordAndHash("nope", hash), local.ErrMismatchedHashAndPassword)

	_, err = local.HashPassword("", 4)
	assert.ErrorIs(t, err, local.ErrEmptyPassword)

	assert.NotEmpty(t, local.RandomPasswordHash(4))
}
