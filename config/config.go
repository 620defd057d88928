// Package config loads the portal configuration from YAML, .env files and
// the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-authstate"
	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "PORTAL_"

const (
	ProviderLocal  = "local"
	ProviderGoTrue = "gotrue"

	StrategyLookup   = "lookup"
	StrategyMetadata = "metadata"
)

// Config is the portal configuration
type Config struct {
	App         App         `yaml:"app"`
	Auth        Auth        `yaml:"auth"`
	GoTrue      GoTrue      `yaml:"gotrue"`
	Profile     Profile     `yaml:"profile"`
	Persistence Persistence `yaml:"persistence"`
	NATS        NATS        `yaml:"nats"`
	Metrics     Metrics     `yaml:"metrics"`
}

type App struct {
	Name  string `yaml:"name"`
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`

	// CSRFKey signs the form tokens, a random key is used when empty
	CSRFKey string `yaml:"csrf_key"`
}

// Auth selects the auth provider. Expirations are in hours.
type Auth struct {
	Provider            string        `yaml:"provider"`
	SigningKey          string        `yaml:"signing_key"`
	TokenExpiration     int           `yaml:"token_expiration"`
	RefreshExpiration   int           `yaml:"refresh_expiration"`
	Issuer              string        `yaml:"issuer"`
	Audience            []string      `yaml:"audience"`
	AutoRefreshInterval time.Duration `yaml:"auto_refresh_interval"`
	AutoRefreshMargin   time.Duration `yaml:"auto_refresh_margin"`
}

// GoTrue configures the hosted backend. When JWKSURL and JWTSecret are both
// empty tokens are trusted as received.
type GoTrue struct {
	URL          string `yaml:"url"`
	AnonKey      string `yaml:"anon_key"`
	JWTSecret    string `yaml:"jwt_secret"`
	JWKSURL      string `yaml:"jwks_url"`
	Audience     string `yaml:"audience"`
	ProfileTable string `yaml:"profile_table"`
}

// Profile configures how a session becomes a profile
type Profile struct {
	Strategy       string        `yaml:"strategy"`
	Fallback       string        `yaml:"fallback"`
	Attempts       int           `yaml:"attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	Backoff        time.Duration `yaml:"backoff"`
}

type Persistence struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type NATS struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the configuration used for every unset value
func Defaults() *Config {
	retry := authstate.DefaultRetryPolicy()
	return &Config{
		App: App{
			Name: "portal",
			Addr: ":8978",
		},
		Auth: Auth{
			Provider:            ProviderLocal,
			TokenExpiration:     1,
			RefreshExpiration:   24 * 7,
			Issuer:              "portal",
			AutoRefreshInterval: time.Minute,
			AutoRefreshMargin:   5 * time.Minute,
		},
		GoTrue: GoTrue{
			Audience:     "authenticated",
			ProfileTable: "profiles",
		},
		Profile: Profile{
			Strategy:       StrategyLookup,
			Fallback:       string(authstate.FallbackLeastPrivilege),
			Attempts:       retry.Attempts,
			AttemptTimeout: retry.AttemptTimeout,
			Backoff:        retry.Backoff,
		},
		Persistence: Persistence{
			Driver: "sqlite",
			DSN:    "file:portal.db?cache=shared",
		},
		NATS: NATS{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "authstate.activity",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads path over the defaults, then the .env files and the
// environment. An empty path skips the YAML file.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to read config file").
				WithMetadata(map[string]any{"path": path})
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to parse config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := loadEnvFiles(envFiles...); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles loads the existing files, godotenv never overrides
// variables already present in the environment
func loadEnvFiles(files ...string) error {
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to load env files")
	}
	return nil
}

type envBinding struct {
	key string
	set func(string) error
}

func (c *Config) envBindings() []envBinding {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	num := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	flag := func(dst *bool) func(string) error {
		return func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			*dst = b
			return nil
		}
	}
	dur := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	return []envBinding{
		{"APP_ADDR", str(&c.App.Addr)},
		{"APP_DEBUG", flag(&c.App.Debug)},
		{"APP_CSRF_KEY", str(&c.App.CSRFKey)},
		{"AUTH_PROVIDER", str(&c.Auth.Provider)},
		{"AUTH_SIGNING_KEY", str(&c.Auth.SigningKey)},
		{"AUTH_TOKEN_EXPIRATION", num(&c.Auth.TokenExpiration)},
		{"AUTH_REFRESH_EXPIRATION", num(&c.Auth.RefreshExpiration)},
		{"AUTH_ISSUER", str(&c.Auth.Issuer)},
		{"AUTH_AUDIENCE", func(v string) error { c.Auth.Audience = splitList(v); return nil }},
		{"GOTRUE_URL", str(&c.GoTrue.URL)},
		{"GOTRUE_ANON_KEY", str(&c.GoTrue.AnonKey)},
		{"GOTRUE_JWT_SECRET", str(&c.GoTrue.JWTSecret)},
		{"GOTRUE_JWKS_URL", str(&c.GoTrue.JWKSURL)},
		{"PROFILE_STRATEGY", str(&c.Profile.Strategy)},
		{"PROFILE_FALLBACK", str(&c.Profile.Fallback)},
		{"PROFILE_ATTEMPTS", num(&c.Profile.Attempts)},
		{"PROFILE_ATTEMPT_TIMEOUT", dur(&c.Profile.AttemptTimeout)},
		{"PERSISTENCE_DRIVER", str(&c.Persistence.Driver)},
		{"PERSISTENCE_DSN", str(&c.Persistence.DSN)},
		{"NATS_ENABLED", flag(&c.NATS.Enabled)},
		{"NATS_URL", str(&c.NATS.URL)},
		{"METRICS_ENABLED", flag(&c.Metrics.Enabled)},
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.envBindings() {
		v, ok := lookup(EnvPrefix + b.key)
		if !ok {
			continue
		}
		if err := b.set(strings.TrimSpace(v)); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid environment override").
				WithMetadata(map[string]any{"key": EnvPrefix + b.key})
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	err := validation.Errors{
		"app": validation.ValidateStruct(&c.App,
			validation.Field(&c.App.Addr, validation.Required),
			validation.Field(&c.App.CSRFKey, validation.Length(32, 0)),
		),
		"auth": validation.ValidateStruct(&c.Auth,
			validation.Field(&c.Auth.Provider, validation.Required, validation.In(ProviderLocal, ProviderGoTrue)),
			validation.Field(&c.Auth.SigningKey, rulesIf(c.Auth.Provider == ProviderLocal, validation.Required, validation.Length(16, 0))...),
			validation.Field(&c.Auth.TokenExpiration, validation.Min(1)),
			validation.Field(&c.Auth.RefreshExpiration, validation.Min(c.Auth.TokenExpiration)),
		),
		"gotrue": validation.ValidateStruct(&c.GoTrue,
			validation.Field(&c.GoTrue.URL, append(rulesIf(c.Auth.Provider == ProviderGoTrue, validation.Required), is.URL)...),
			validation.Field(&c.GoTrue.AnonKey, rulesIf(c.Auth.Provider == ProviderGoTrue, validation.Required)...),
			validation.Field(&c.GoTrue.JWKSURL, is.URL),
		),
		"profile": validation.ValidateStruct(&c.Profile,
			validation.Field(&c.Profile.Strategy, validation.Required, validation.In(StrategyLookup, StrategyMetadata)),
			validation.Field(&c.Profile.Fallback, validation.Required,
				validation.In(string(authstate.FallbackLeastPrivilege), string(authstate.FallbackNone))),
			validation.Field(&c.Profile.Attempts, validation.Required, validation.Min(1), validation.Max(5)),
			validation.Field(&c.Profile.AttemptTimeout, validation.Required, validation.Min(5*time.Second), validation.Max(15*time.Second)),
			validation.Field(&c.Profile.Backoff, validation.Min(time.Duration(0))),
		),
		"persistence": validation.ValidateStruct(&c.Persistence,
			validation.Field(&c.Persistence.Driver, validation.Required, validation.In("sqlite", "postgres")),
		),
	}.Filter()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}
	return nil
}

// rulesIf returns rules only when cond holds, for checks that depend on the
// selected provider
func rulesIf(cond bool, rules ...validation.Rule) []validation.Rule {
	if !cond {
		return nil
	}
	return rules
}

// RetryPolicy returns the profile lookup retry policy
func (c *Config) RetryPolicy() authstate.RetryPolicy {
	return authstate.RetryPolicy{
		Attempts:       c.Profile.Attempts,
		AttemptTimeout: c.Profile.AttemptTimeout,
		Backoff:        c.Profile.Backoff,
	}
}

// FallbackPolicy returns the profile lookup fallback policy
func (c *Config) FallbackPolicy() authstate.FallbackPolicy {
	return authstate.FallbackPolicy(c.Profile.Fallback)
}

// GetSigningKey implements local.Config.
func (c *Config) GetSigningKey() string {
	return c.Auth.SigningKey
}

// GetTokenExpiration implements local.Config.
func (c *Config) GetTokenExpiration() int {
	return c.Auth.TokenExpiration
}

// GetRefreshExpiration implements local.Config.
func (c *Config) GetRefreshExpiration() int {
	return c.Auth.RefreshExpiration
}

// GetIssuer implements local.Config.
func (c *Config) GetIssuer() string {
	return c.Auth.Issuer
}

// GetAudience implements local.Config.
func (c *Config) GetAudience() []string {
	return c.Auth.Audience
}
