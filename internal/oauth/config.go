package oauth

import (
	"errors"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"

	"github.com/teemow/calagent/internal/credentials"
)

const (
	// DefaultSkew is subtracted from expires_at when deciding to refresh.
	DefaultSkew = 5 * time.Minute
	// DefaultRefreshTimeout bounds one token endpoint round trip.
	DefaultRefreshTimeout = 15 * time.Second
	// DefaultStateTTL bounds how long a connect flow may take.
	DefaultStateTTL = 30 * time.Minute
)

// DefaultGoogleScopes grants calendar read/write plus the identity claims
// used for ProviderSubjectID.
var DefaultGoogleScopes = []string{
	"openid",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/calendar",
}

// DefaultMicrosoftScopes grants calendar read/write. offline_access is
// required for Graph to issue a refresh token.
var DefaultMicrosoftScopes = []string{
	"openid",
	"offline_access",
	"User.Read",
	"Calendars.ReadWrite",
}

// ProviderConfig holds the OAuth client registration for one provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Tenant selects the Azure AD tenant (Microsoft only, default "common").
	Tenant string
	// AuthURL and TokenURL override the provider endpoints.
	AuthURL  string
	TokenURL string
}

// Enabled reports whether the provider has a client registration.
func (c ProviderConfig) Enabled() bool {
	return c.ClientID != ""
}

func (c ProviderConfig) oauth2Config(provider credentials.Provider) *oauth2.Config {
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Scopes:       c.Scopes,
	}
	switch provider {
	case credentials.ProviderGoogle:
		conf.Endpoint = google.Endpoint
		if len(conf.Scopes) == 0 {
			conf.Scopes = DefaultGoogleScopes
		}
	case credentials.ProviderMicrosoft:
		tenant := c.Tenant
		if tenant == "" {
			tenant = "common"
		}
		conf.Endpoint = microsoft.AzureADEndpoint(tenant)
		if len(conf.Scopes) == 0 {
			conf.Scopes = DefaultMicrosoftScopes
		}
	}
	if c.AuthURL != "" || c.TokenURL != "" {
		conf.Endpoint = oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
	return conf
}

// Config configures a Manager.
type Config struct {
	Google    ProviderConfig
	Microsoft ProviderConfig

	Skew           time.Duration
	RefreshTimeout time.Duration
	StateTTL       time.Duration
}

// Validate checks that at least one provider is configured.
func (c *Config) Validate() error {
	if !c.Google.Enabled() && !c.Microsoft.Enabled() {
		return errors.New("at least one of the google or microsoft OAuth clients must be configured")
	}
	if c.Skew < 0 {
		return errors.New("token refresh skew cannot be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Skew == 0 {
		c.Skew = DefaultSkew
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = DefaultRefreshTimeout
	}
	if c.StateTTL <= 0 {
		c.StateTTL = DefaultStateTTL
	}
}
