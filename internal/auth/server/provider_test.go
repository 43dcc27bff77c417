package server

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/til-jmac/tableau-mcp/internal/auth/pkce"
	"github.com/til-jmac/tableau-mcp/internal/auth/store"
	"github.com/til-jmac/tableau-mcp/internal/auth/tableau"
	"github.com/til-jmac/tableau-mcp/internal/config"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

const (
	externalRedirectURI = "https://client.example.com/cb"
	externalVerifier    = "external-verifier-external-verifier-12345"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	fn       func()
	stopped  bool
	fired    bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) store.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{deadline: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !c.now.Before(t.deadline) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

type exchangeCall struct {
	code         string
	codeVerifier string
	clientID     string
	redirectURI  string
}

// fakeUpstream delegates URL building to a real tableau client and stubs the
// network-bound calls.
type fakeUpstream struct {
	base *tableau.Client

	mu            sync.Mutex
	exchangeCalls []exchangeCall
	exchangeErr   error
	tokenResponse *tableau.TokenResponse
	sessionErr    error
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	base, err := tableau.NewClient("https://tableau.example.com", "mysite", nil)
	require.NoError(t, err)
	return &fakeUpstream{
		base: base,
		tokenResponse: &tableau.TokenResponse{
			AccessToken:  "upstream-access",
			RefreshToken: "upstream-refresh",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			Host:         "tableau.example.com",
			SiteName:     "mysite",
			UserID:       "user-1",
		},
	}
}

func (f *fakeUpstream) AuthorizeURL(req tableau.AuthorizeRequest) string {
	return f.base.AuthorizeURL(req)
}

func (f *fakeUpstream) ExchangeCode(_ context.Context, code, codeVerifier, clientID, redirectURI string) (*tableau.TokenResponse, error) {
	f.mu.Lock()
	f.exchangeCalls = append(f.exchangeCalls, exchangeCall{code, codeVerifier, clientID, redirectURI})
	f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.tokenResponse, nil
}

func (f *fakeUpstream) CurrentSession(context.Context, string) (*tableau.SessionInfo, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &tableau.SessionInfo{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Server:                "https://tableau.example.com",
		SiteName:              "mysite",
		OAuthEnabled:          true,
		RedirectBaseURL:       "https://mcp.example.com",
		AuthCodeTimeoutMS:     300000,
		RefreshTokenTimeoutMS: (14 * 24 * time.Hour).Milliseconds(),
		ClientID:              "service-client",
		ClientSecret:          "service-secret",
		ListenAddr:            ":3927",
	}
}

func newTestProvider(t *testing.T, clock store.Clock) (*Provider, *fakeUpstream) {
	t.Helper()
	upstream := newFakeUpstream(t)
	p, err := NewProvider(testConfig(), upstream, clock, nil)
	require.NoError(t, err)
	return p, upstream
}

func startAuthorization(t *testing.T, p *Provider) url.Values {
	t.Helper()
	redirect, err := p.StartAuthorization(AuthorizationParams{
		ClientID:      "mcp-public-client",
		RedirectURI:   externalRedirectURI,
		CodeChallenge: pkce.CodeChallenge(externalVerifier),
		State:         "client-state",
		DeviceName:    "Visual Studio Code",
	})
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	return u.Query()
}

// completeFlow walks authorize and callback, returning the internal
// authorization code handed to the external client.
func completeFlow(t *testing.T, p *Provider) string {
	t.Helper()
	query := startAuthorization(t, p)

	redirect, err := p.CompleteCallback(context.Background(), query.Get("state"), "upstream-code")
	require.NoError(t, err)
	u, err := url.Parse(redirect)
	require.NoError(t, err)
	require.Equal(t, "client.example.com", u.Host)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func requireOAuthError(t *testing.T, err error, wantCode, wantInMsg string) {
	t.Helper()
	require.Error(t, err)
	oauthErr, ok := err.(errors.OAuthError)
	require.True(t, ok, "error must be an OAuthError, got %T", err)
	assert.Equal(t, wantCode, oauthErr.ErrorCode)
	assert.Contains(t, oauthErr.Message, wantInMsg)
}

func TestStartAuthorizationBuildsUpstreamRedirect(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	query := startAuthorization(t, p)

	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	assert.Equal(t, "https://mcp.example.com/Callback", query.Get("redirect_uri"))
	assert.Equal(t, "Visual Studio Code", query.Get("device_name"))
	assert.NotEmpty(t, query.Get("device_id"))

	// The upstream leg gets its own identity, never the external client's.
	_, err := uuid.Parse(query.Get("client_id"))
	assert.NoError(t, err)
	assert.NotEqual(t, pkce.CodeChallenge(externalVerifier), query.Get("code_challenge"))
	assert.Contains(t, query.Get("state"), ":")
}

func TestStartAuthorizationStatesAreUnique(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	first := startAuthorization(t, p)
	second := startAuthorization(t, p)
	assert.NotEqual(t, first.Get("state"), second.Get("state"))
	assert.NotEqual(t, first.Get("device_id"), second.Get("device_id"))
}

func TestCompleteCallbackExchangesWithStoredVerifier(t *testing.T) {
	p, upstream := newTestProvider(t, newFakeClock())
	query := startAuthorization(t, p)

	redirect, err := p.CompleteCallback(context.Background(), query.Get("state"), "upstream-code")
	require.NoError(t, err)

	require.Len(t, upstream.exchangeCalls, 1)
	call := upstream.exchangeCalls[0]
	assert.Equal(t, "upstream-code", call.code)
	assert.Equal(t, "https://mcp.example.com/Callback", call.redirectURI)
	assert.Equal(t, query.Get("client_id"), call.clientID)
	assert.True(t, pkce.VerifyChallenge(call.codeVerifier, query.Get("code_challenge")),
		"the stored verifier must match the challenge sent upstream")

	u, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "client-state", u.Query().Get("state"))
	assert.NotEmpty(t, u.Query().Get("code"))
}

func TestCompleteCallbackRejectsBadState(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	query := startAuthorization(t, p)
	authKey, _, _ := strings.Cut(query.Get("state"), ":")

	tests := []struct {
		name  string
		state string
	}{
		{"no separator", "justonetoken"},
		{"unknown auth key", "unknown:nonce"},
		{"mismatched nonce", authKey + ":wrong-nonce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.CompleteCallback(context.Background(), tt.state, "upstream-code")
			requireOAuthError(t, err, errors.ErrInvalidRequest, "Invalid state parameter")
		})
	}
}

func TestCompleteCallbackRejectsExpiredPendingAuthorization(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProvider(t, clock)
	query := startAuthorization(t, p)

	clock.Advance(5 * time.Minute)
	_, err := p.CompleteCallback(context.Background(), query.Get("state"), "upstream-code")
	requireOAuthError(t, err, errors.ErrInvalidRequest, "Invalid state parameter")
}

func TestCompleteCallbackHidesUpstreamFailureDetail(t *testing.T) {
	p, upstream := newTestProvider(t, newFakeClock())
	upstream.exchangeErr = fmt.Errorf("upstream said: secret internal detail")
	query := startAuthorization(t, p)

	_, err := p.CompleteCallback(context.Background(), query.Get("state"), "upstream-code")
	requireOAuthError(t, err, errors.ErrInvalidRequest, "Failed to exchange authorization code")
	assert.NotContains(t, err.Error(), "secret internal detail")
}

func TestCompleteCallbackRejectsForeignHost(t *testing.T) {
	p, upstream := newTestProvider(t, newFakeClock())
	upstream.tokenResponse.Host = "other-tenant.example.com"
	query := startAuthorization(t, p)

	_, err := p.CompleteCallback(context.Background(), query.Get("state"), "upstream-code")
	requireOAuthError(t, err, errors.ErrInvalidRequest, "other-tenant.example.com")
	assert.Contains(t, err.Error(), "tableau.example.com")
}

func TestExchangeAuthorizationCode(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	code := completeFlow(t, p)

	tokens, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64(3600), tokens.ExpiresIn)
}

func TestAuthorizationCodeIsSingleUse(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	code := completeFlow(t, p)

	_, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)

	_, err = p.ExchangeAuthorizationCode(code, externalVerifier)
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired authorization code")
}

func TestExchangeAuthorizationCodeRejectsWrongVerifier(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	code := completeFlow(t, p)

	_, err := p.ExchangeAuthorizationCode(code, "not-the-verifier")
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid code verifier")
}

func TestExchangeAuthorizationCodeRejectsExpiredCode(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProvider(t, clock)
	code := completeFlow(t, p)

	clock.Advance(5 * time.Minute)
	_, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired authorization code")
}

func TestRefreshTokenRotation(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	code := completeFlow(t, p)
	first, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)

	second, err := p.ExchangeRefreshToken(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken,
		"rotation must hand out a different refresh token")
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The rotated-away value is permanently dead.
	_, err = p.ExchangeRefreshToken(context.Background(), first.RefreshToken)
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired refresh token")

	_, err = p.ExchangeRefreshToken(context.Background(), second.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshTokenAbsoluteLifetimeSurvivesRotation(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProvider(t, clock)
	code := completeFlow(t, p)
	tokens, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)

	// Rotating halfway through the lifetime must not reset the clock.
	clock.Advance(7 * 24 * time.Hour)
	tokens, err = p.ExchangeRefreshToken(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)

	clock.Advance(7 * 24 * time.Hour)
	_, err = p.ExchangeRefreshToken(context.Background(), tokens.RefreshToken)
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired refresh token")
}

func TestRefreshTokenRequiresLiveUpstreamSession(t *testing.T) {
	p, upstream := newTestProvider(t, newFakeClock())
	code := completeFlow(t, p)
	tokens, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)

	upstream.sessionErr = fmt.Errorf("session endpoint returned status 401")
	_, err = p.ExchangeRefreshToken(context.Background(), tokens.RefreshToken)
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired refresh token")
}

func TestRefreshTokenUnknownValue(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())
	_, err := p.ExchangeRefreshToken(context.Background(), "never-issued")
	requireOAuthError(t, err, errors.ErrInvalidGrant, "Invalid or expired refresh token")
}

func TestClientCredentials(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())

	tokens, err := p.ClientCredentials("service-client", "service-secret")
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.Empty(t, tokens.RefreshToken, "client_credentials must not issue a refresh token")
	assert.Equal(t, "Bearer", tokens.TokenType)

	info, err := p.VerifyAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "tableau.example.com", info.Session.Host)
}

func TestClientCredentialsRejectsBadCredentials(t *testing.T) {
	p, _ := newTestProvider(t, newFakeClock())

	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"wrong secret", "service-client", "wrong"},
		{"wrong secret of matching length", "service-client", "service-secreX"},
		{"wrong id", "other-client", "service-secret"},
		{"secret of different length", "service-client", "service-secret-but-much-much-longer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ClientCredentials(tt.id, tt.secret)
			requireOAuthError(t, err, errors.ErrInvalidClient, "Invalid client credentials")
		})
	}
}

func TestClientCredentialsDisabledWithoutConfiguredSecret(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = ""
	cfg.ClientSecret = ""
	p, err := NewProvider(cfg, newFakeUpstream(t), newFakeClock(), nil)
	require.NoError(t, err)

	_, err = p.ClientCredentials("", "")
	requireOAuthError(t, err, errors.ErrInvalidClient, "Invalid client credentials")
}

func TestVerifyAccessToken(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProvider(t, clock)
	code := completeFlow(t, p)
	tokens, err := p.ExchangeAuthorizationCode(code, externalVerifier)
	require.NoError(t, err)

	info, err := p.VerifyAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "mysite", info.Session.SiteName)
	assert.Equal(t, "user-1", info.Session.UserID)

	_, err = p.VerifyAccessToken("garbage")
	requireOAuthError(t, err, errors.ErrInvalidToken, "Invalid or expired access token")

	clock.Advance(time.Hour)
	_, err = p.VerifyAccessToken(tokens.AccessToken)
	requireOAuthError(t, err, errors.ErrInvalidToken, "Invalid or expired access token")
}
