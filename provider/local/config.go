package local

// Config holds the token options of the in-process provider
type Config interface {
	GetSigningKey() string
	// GetTokenExpiration is the access token lifetime in hours
	GetTokenExpiration() int
	// GetRefreshExpiration is the refresh token lifetime in hours
	GetRefreshExpiration() int
	GetIssuer() string
	GetAudience() []string
}

// StaticConfig is a literal Config, mostly for tests and tooling
type StaticConfig struct {
	SigningKey        string
	TokenExpiration   int
	RefreshExpiration int
	Issuer            string
	Audience          []string
}

func (c StaticConfig) GetSigningKey() string { return c.SigningKey }

func (c StaticConfig) GetTokenExpiration() int {
	if c.TokenExpiration <= 0 {
		return 1
	}
	return c.TokenExpiration
}

func (c StaticConfig) GetRefreshExpiration() int {
	if c.RefreshExpiration <= 0 {
		return 24 * 7
	}
	return c.RefreshExpiration
}

func (c StaticConfig) GetIssuer() string     { return c.Issuer }
func (c StaticConfig) GetAudience() []string { return c.Audience }
