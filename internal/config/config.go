// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every knob the façade reads from the environment.
type Config struct {
	// Server is the upstream Tableau server URL, e.g. https://example.online.tableau.com.
	Server string `env:"TABLEAU_SERVER"`

	// SiteName is the target Tableau site (contentUrl). Empty selects the
	// default site.
	SiteName string `env:"TABLEAU_SITE_NAME"`

	// OAuthEnabled toggles the whole OAuth façade. When disabled, the tool
	// layer authenticates by other means and none of the OAuth endpoints are
	// mounted.
	OAuthEnabled bool `env:"OAUTH_ENABLED" envDefault:"false"`

	// RedirectBaseURL is the externally reachable base URL of this process,
	// used to derive the callback URL, the issuer, and the resource URL.
	RedirectBaseURL string `env:"OAUTH_REDIRECT_BASE_URL"`

	// AuthCodeTimeoutMS bounds how long a pending authorization and a minted
	// internal authorization code stay redeemable.
	AuthCodeTimeoutMS int64 `env:"OAUTH_AUTH_CODE_TIMEOUT_MS" envDefault:"300000"`

	// RefreshTokenTimeoutMS is the absolute refresh-token lifetime. Rotation
	// never extends it.
	RefreshTokenTimeoutMS int64 `env:"OAUTH_REFRESH_TOKEN_TIMEOUT_MS" envDefault:"1209600000"`

	// ClientID and ClientSecret authenticate the client_credentials grant.
	ClientID     string `env:"OAUTH_CLIENT_ID"`
	ClientSecret string `env:"OAUTH_CLIENT_SECRET"`

	// ListenAddr is the HTTP listen address.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":3927"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.OAuthEnabled {
		return nil
	}
	u, err := url.Parse(c.Server)
	if err != nil || !u.IsAbs() || u.Scheme != "https" {
		return fmt.Errorf("config: TABLEAU_SERVER must be an absolute https URL, got %q", c.Server)
	}
	b, err := url.Parse(c.RedirectBaseURL)
	if err != nil || !b.IsAbs() {
		return fmt.Errorf("config: OAUTH_REDIRECT_BASE_URL must be an absolute URL, got %q", c.RedirectBaseURL)
	}
	if c.AuthCodeTimeoutMS <= 0 {
		return fmt.Errorf("config: OAUTH_AUTH_CODE_TIMEOUT_MS must be positive, got %d", c.AuthCodeTimeoutMS)
	}
	if c.RefreshTokenTimeoutMS <= 0 {
		return fmt.Errorf("config: OAUTH_REFRESH_TOKEN_TIMEOUT_MS must be positive, got %d", c.RefreshTokenTimeoutMS)
	}
	return nil
}

// ServerHost is the upstream server host, used to check the origin host
// embedded in upstream token responses.
func (c *Config) ServerHost() string {
	u, err := url.Parse(c.Server)
	if err != nil {
		return ""
	}
	return u.Host
}

// AuthCodeTimeout returns the pending-authorization TTL.
func (c *Config) AuthCodeTimeout() time.Duration {
	return time.Duration(c.AuthCodeTimeoutMS) * time.Millisecond
}

// RefreshTokenTimeout returns the absolute refresh-token lifetime.
func (c *Config) RefreshTokenTimeout() time.Duration {
	return time.Duration(c.RefreshTokenTimeoutMS) * time.Millisecond
}

func (c *Config) baseURL() string {
	return strings.TrimRight(c.RedirectBaseURL, "/")
}

// CallbackURL is the façade's own redirect_uri registered with the upstream
// provider.
func (c *Config) CallbackURL() string { return c.baseURL() + "/Callback" }

// IssuerURL identifies this authorization server in discovery documents.
func (c *Config) IssuerURL() string { return c.baseURL() }

// ResourceURL is the protected MCP resource URL.
func (c *Config) ResourceURL() string { return c.baseURL() + "/mcp" }

// ProtectedResourceMetadataURL is advertised in WWW-Authenticate challenges.
func (c *Config) ProtectedResourceMetadataURL() string {
	return c.baseURL() + "/.well-known/oauth-protected-resource"
}
