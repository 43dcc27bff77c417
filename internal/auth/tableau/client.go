// Package tableau is the collaborator boundary to the upstream Tableau
// identity provider: building its authorization URL, exchanging authorization
// codes for upstream tokens, and checking session liveness. The provider is
// treated as opaque; its failures are reported as plain errors and mapped to
// OAuth codes by the caller.
package tableau

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	authorizePath = "/oauth2/v1/authorize"
	tokenPath     = "/oauth2/v1/token"
	sessionPath   = "/vizportal/api/web/v1/getSessionInfo"

	// clientType tags the façade's authorization requests on the upstream
	// consent screen.
	clientType = "mcp"

	requestTimeout = 30 * time.Second

	maxResponseSize = 1 << 20
)

// Client talks to one upstream Tableau server.
type Client struct {
	serverURL *url.URL
	siteName  string
	http      *http.Client
}

// NewClient creates a Client for the given server URL. A nil httpClient
// selects a default with a request timeout.
func NewClient(serverURL, siteName string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("tableau: server URL must be absolute, got %q", serverURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	return &Client{
		serverURL: u,
		siteName:  siteName,
		http:      httpClient,
	}, nil
}

// AuthorizeRequest carries the parameters of one upstream authorization
// redirect.
type AuthorizeRequest struct {
	ClientID      string
	CodeChallenge string
	RedirectURI   string
	State         string
	DeviceID      string
	DeviceName    string
}

// AuthorizeURL builds the upstream authorization endpoint URL the user agent
// is redirected to.
func (c *Client) AuthorizeURL(req AuthorizeRequest) string {
	target := *c.serverURL
	target.Path = strings.TrimRight(target.Path, "/") + authorizePath

	query := url.Values{
		"client_id":             {req.ClientID},
		"code_challenge":        {req.CodeChallenge},
		"code_challenge_method": {"S256"},
		"response_type":         {"code"},
		"redirect_uri":          {req.RedirectURI},
		"state":                 {req.State},
		"device_id":             {req.DeviceID},
		"device_name":           {req.DeviceName},
		"target_site":           {c.siteName},
		"client_type":           {clientType},
	}
	target.RawQuery = query.Encode()
	return target.String()
}

// TokenResponse is the upstream token endpoint's answer to a code exchange.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`

	// Host is the origin host this session was issued by. The callback
	// handler checks it against the configured server host.
	Host     string `json:"host"`
	SiteName string `json:"site_name"`
	SiteID   string `json:"site_id"`
	UserID   string `json:"user_id"`
}

// ExchangeCode redeems an upstream authorization code using the façade's
// internally generated verifier.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier, clientID, redirectURI string) (*TokenResponse, error) {
	target := *c.serverURL
	target.Path = strings.TrimRight(target.Path, "/") + tokenPath

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {codeVerifier},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("tableau: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tableau: token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("tableau: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tableau: token endpoint returned status %d", resp.StatusCode)
	}

	var tokens TokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		return nil, fmt.Errorf("tableau: parse token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("tableau: token response missing access_token")
	}
	return &tokens, nil
}

// SessionInfo is the subset of the upstream session document the façade
// cares about.
type SessionInfo struct {
	Site struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	} `json:"site"`
	User struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"user"`
}

// CurrentSession queries the upstream provider for the session bound to an
// upstream access token. Used to re-validate liveness during refresh-token
// rotation.
func (c *Client) CurrentSession(ctx context.Context, accessToken string) (*SessionInfo, error) {
	target := *c.serverURL
	target.Path = strings.TrimRight(target.Path, "/") + sessionPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tableau: build session request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tableau: session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tableau: session endpoint returned status %d", resp.StatusCode)
	}

	var info SessionInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&info); err != nil {
		return nil, fmt.Errorf("tableau: parse session response: %w", err)
	}
	return &info, nil
}
