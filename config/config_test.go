package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/goliatone/go-authstate/provider/local"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ local.Config = (*Config)(nil)

const sampleYAML = `
app:
  addr: ":9000"
auth:
  provider: local
  signing_key: "0123456789abcdef0123"
  token_expiration: 2
  audience: ["portal-web"]
profile:
  strategy: metadata
  attempt_timeout: 12s
persistence:
  driver: postgres
  dsn: postgres://localhost/portal
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	cfg, err := Load(writeFile(t, "portal.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.App.Addr)
	assert.Equal(t, "portal", cfg.App.Name)
	assert.Equal(t, StrategyMetadata, cfg.Profile.Strategy)
	assert.Equal(t, 12*time.Second, cfg.Profile.AttemptTimeout)
	assert.Equal(t, 2, cfg.Profile.Attempts)
	assert.Equal(t, authstate.FallbackLeastPrivilege, cfg.FallbackPolicy())
	assert.Equal(t, "postgres", cfg.Persistence.Driver)

	assert.Equal(t, "0123456789abcdef0123", cfg.GetSigningKey())
	assert.Equal(t, 2, cfg.GetTokenExpiration())
	assert.Equal(t, 24*7, cfg.GetRefreshExpiration())
	assert.Equal(t, "portal", cfg.GetIssuer())
	assert.Equal(t, []string{"portal-web"}, cfg.GetAudience())

	policy := cfg.RetryPolicy()
	assert.Equal(t, 2, policy.Attempts)
	assert.Equal(t, 12*time.Second, policy.AttemptTimeout)
	assert.Equal(t, time.Second, policy.Backoff)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, goerrors.CategoryBadInput, rich.Category)
}

func TestLoadEnvFile(t *testing.T) {
	const key = EnvPrefix + "PROFILE_FALLBACK"
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=none\n")
	cfg, err := Load(writeFile(t, "portal.yaml", sampleYAML), envFile, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, authstate.FallbackNone, cfg.FallbackPolicy())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORTAL_AUTH_PROVIDER":           "gotrue",
		"PORTAL_GOTRUE_URL":              "https://project.supabase.co",
		"PORTAL_GOTRUE_ANON_KEY":         "anon",
		"PORTAL_AUTH_AUDIENCE":           "web, mobile ,",
		"PORTAL_PROFILE_ATTEMPT_TIMEOUT": "8s",
		"PORTAL_PROFILE_ATTEMPTS":        "3",
		"PORTAL_NATS_ENABLED":            "true",
		"PORTAL_APP_DEBUG":               "1",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Defaults()
	require.NoError(t, cfg.applyEnv(lookup))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ProviderGoTrue, cfg.Auth.Provider)
	assert.Equal(t, []string{"web", "mobile"}, cfg.Auth.Audience)
	assert.Equal(t, 8*time.Second, cfg.Profile.AttemptTimeout)
	assert.Equal(t, 3, cfg.Profile.Attempts)
	assert.True(t, cfg.NATS.Enabled)
	assert.True(t, cfg.App.Debug)
}

func TestApplyEnvInvalidValue(t *testing.T) {
	cfg := Defaults()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "PORTAL_PROFILE_ATTEMPTS" {
			return "two", true
		}
		return "", false
	})
	require.Error(t, err)

	var rich *goerrors.Error
	require.True(t, goerrors.As(err, &rich))
	assert.Equal(t, "PORTAL_PROFILE_ATTEMPTS", rich.Metadata["key"])
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Auth.SigningKey = "0123456789abcdef0123"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing signing key", func(c *Config) { c.Auth.SigningKey = "" }},
		{"short signing key", func(c *Config) { c.Auth.SigningKey = "short" }},
		{"unknown provider", func(c *Config) { c.Auth.Provider = "firebase" }},
		{"gotrue without url", func(c *Config) { c.Auth.Provider = ProviderGoTrue; c.GoTrue.AnonKey = "anon" }},
		{"gotrue without anon key", func(c *Config) { c.Auth.Provider = ProviderGoTrue; c.GoTrue.URL = "https://auth.example.com" }},
		{"unknown strategy", func(c *Config) { c.Profile.Strategy = "merge" }},
		{"unknown fallback", func(c *Config) { c.Profile.Fallback = "admin" }},
		{"attempt timeout too short", func(c *Config) { c.Profile.AttemptTimeout = time.Second }},
		{"attempt timeout too long", func(c *Config) { c.Profile.AttemptTimeout = 20 * time.Second }},
		{"zero attempts", func(c *Config) { c.Profile.Attempts = 0 }},
		{"unknown driver", func(c *Config) { c.Persistence.Driver = "mysql" }},
		{"refresh shorter than token", func(c *Config) { c.Auth.TokenExpiration = 48; c.Auth.RefreshExpiration = 24 }},
		{"short csrf key", func(c *Config) { c.App.CSRFKey = "short" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var rich *goerrors.Error
			require.True(t, goerrors.As(err, &rich))
			assert.Equal(t, goerrors.CategoryValidation, rich.Category)
		})
	}
}

func TestValidateProviderScopedRules(t *testing.T) {
	t.Run("gotrue needs no signing key", func(t *testing.T) {
		cfg := Defaults()
		cfg.Auth.Provider = ProviderGoTrue
		cfg.GoTrue.URL = "https://auth.example.com"
		cfg.GoTrue.AnonKey = "anon"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("local needs no gotrue settings", func(t *testing.T) {
		cfg := Defaults()
		cfg.Auth.SigningKey = "0123456789abcdef0123"
		cfg.GoTrue.URL = ""
		cfg.GoTrue.AnonKey = ""
		assert.NoError(t, cfg.Validate())
	})
}
