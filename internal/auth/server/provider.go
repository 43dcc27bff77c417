// Package server implements the OAuth 2.1 authorization-server façade: it
// fronts a single upstream Tableau identity provider, runs the double-hop
// PKCE authorization flow, and issues its own opaque access and refresh
// tokens bound to server-side upstream sessions.
package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/auth/pkce"
	"github.com/til-jmac/tableau-mcp/internal/auth/store"
	"github.com/til-jmac/tableau-mcp/internal/auth/tableau"
	"github.com/til-jmac/tableau-mcp/internal/config"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// UpstreamClient is the slice of the Tableau boundary the provider needs.
// Satisfied by *tableau.Client; tests substitute a fake.
type UpstreamClient interface {
	AuthorizeURL(req tableau.AuthorizeRequest) string
	ExchangeCode(ctx context.Context, code, codeVerifier, clientID, redirectURI string) (*tableau.TokenResponse, error)
	CurrentSession(ctx context.Context, accessToken string) (*tableau.SessionInfo, error)
}

// AuthorizationParams carries the external client's half of an authorization
// request, already validated by the authorize handler.
type AuthorizationParams struct {
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	State         string

	// DeviceName is a best-effort display name for the upstream consent
	// screen.
	DeviceName string
}

// Provider owns the authorization state machine: pending authorizations,
// internal authorization codes, and issued tokens.
type Provider struct {
	cfg      *config.Config
	upstream UpstreamClient
	pending  *store.Expiring[*PendingAuthorization]
	codes    *store.Expiring[*AuthorizationCode]
	tokens   *tokenStore
	logger   *slog.Logger
}

// NewProvider wires a Provider from configuration. A nil clock selects the
// system clock; a nil logger selects slog's default.
func NewProvider(cfg *config.Config, upstream UpstreamClient, clock store.Clock, logger *slog.Logger) (*Provider, error) {
	if clock == nil {
		clock = store.SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pending, err := store.NewExpiring[*PendingAuthorization](cfg.AuthCodeTimeout(), clock)
	if err != nil {
		return nil, fmt.Errorf("server: pending store: %w", err)
	}
	codes, err := store.NewExpiring[*AuthorizationCode](cfg.AuthCodeTimeout(), clock)
	if err != nil {
		return nil, fmt.Errorf("server: code store: %w", err)
	}

	return &Provider{
		cfg:      cfg,
		upstream: upstream,
		pending:  pending,
		codes:    codes,
		tokens:   newTokenStore(cfg.RefreshTokenTimeout(), clock),
		logger:   logger,
	}, nil
}

// StartAuthorization records a pending authorization and returns the upstream
// authorization URL the user agent should be redirected to. The upstream leg
// uses a freshly generated internal client id, PKCE pair, device id, and
// anti-CSRF state; the external client's challenge is held back until the
// token exchange.
func (p *Provider) StartAuthorization(params AuthorizationParams) (string, error) {
	tableauCodeVerifier, err := pkce.GenerateVerifier()
	if err != nil {
		p.logger.Error("generating upstream code verifier", "error", err)
		return "", errors.NewOAuthError(errors.ErrServerError, "Failed to start authorization", "")
	}

	authKey := newOpaqueToken()
	tableauState := newOpaqueToken()

	pendingAuth := &PendingAuthorization{
		ClientID:            params.ClientID,
		RedirectURI:         params.RedirectURI,
		CodeChallenge:       params.CodeChallenge,
		State:               params.State,
		TableauState:        tableauState,
		TableauClientID:     uuid.NewString(),
		TableauCodeVerifier: tableauCodeVerifier,
	}
	p.pending.Set(authKey, pendingAuth)

	return p.upstream.AuthorizeURL(tableau.AuthorizeRequest{
		ClientID:      pendingAuth.TableauClientID,
		CodeChallenge: pkce.CodeChallenge(tableauCodeVerifier),
		RedirectURI:   p.cfg.CallbackURL(),
		State:         authKey + ":" + tableauState,
		DeviceID:      uuid.NewString(),
		DeviceName:    params.DeviceName,
	}), nil
}

// CompleteCallback handles the upstream redirect: it validates the state,
// exchanges the upstream code, checks the token response's origin host, mints
// a single-use internal authorization code, and returns the external client's
// redirect URL.
func (p *Provider) CompleteCallback(ctx context.Context, state, upstreamCode string) (string, error) {
	invalidState := errors.NewOAuthError(errors.ErrInvalidRequest, "Invalid state parameter", "")

	authKey, tableauState, found := strings.Cut(state, ":")
	if !found {
		return "", invalidState
	}
	pendingAuth, ok := p.pending.Get(authKey)
	if !ok {
		return "", invalidState
	}
	if subtle.ConstantTimeCompare([]byte(pendingAuth.TableauState), []byte(tableauState)) != 1 {
		return "", invalidState
	}

	upstreamTokens, err := p.upstream.ExchangeCode(ctx, upstreamCode, pendingAuth.TableauCodeVerifier, pendingAuth.TableauClientID, p.cfg.CallbackURL())
	if err != nil {
		p.logger.Error("upstream code exchange failed", "error", err)
		return "", errors.NewOAuthError(errors.ErrInvalidRequest, "Failed to exchange authorization code", "")
	}

	if upstreamTokens.Host != "" && upstreamTokens.Host != p.cfg.ServerHost() {
		return "", errors.NewOAuthError(errors.ErrInvalidRequest,
			fmt.Sprintf("Unexpected host in token response: got %q, expected %q", upstreamTokens.Host, p.cfg.ServerHost()), "")
	}

	code := newOpaqueToken()
	p.codes.Set(code, &AuthorizationCode{
		RedirectURI:   pendingAuth.RedirectURI,
		CodeChallenge: pendingAuth.CodeChallenge,
		Session: &Session{
			AccessToken:  upstreamTokens.AccessToken,
			RefreshToken: upstreamTokens.RefreshToken,
			ExpiresIn:    upstreamTokens.ExpiresIn,
			Host:         upstreamTokens.Host,
			SiteName:     upstreamTokens.SiteName,
			UserID:       upstreamTokens.UserID,
		},
	})
	p.pending.Delete(authKey)

	redirect, err := url.Parse(pendingAuth.RedirectURI)
	if err != nil {
		return "", errors.NewOAuthError(errors.ErrInvalidRequest, "Invalid redirect URI: "+pendingAuth.RedirectURI, "")
	}
	query := redirect.Query()
	query.Set("code", code)
	if pendingAuth.State != "" {
		query.Set("state", pendingAuth.State)
	}
	redirect.RawQuery = query.Encode()
	return redirect.String(), nil
}

// ExchangeAuthorizationCode redeems a single-use internal code for a token
// pair. The code is consumed atomically before the verifier check, so a
// failed PKCE attempt also burns it.
func (p *Provider) ExchangeAuthorizationCode(code, codeVerifier string) (*auth.OAuthTokens, error) {
	authCode, ok := p.codes.Take(code)
	if !ok {
		return nil, errors.NewOAuthError(errors.ErrInvalidGrant, "Invalid or expired authorization code", "")
	}
	if !pkce.VerifyChallenge(codeVerifier, authCode.CodeChallenge) {
		return nil, errors.NewOAuthError(errors.ErrInvalidGrant, "Invalid code verifier", "")
	}
	return p.tokens.Issue(authCode.Session, true), nil
}

// ExchangeRefreshToken rotates a refresh token. The bound upstream session is
// re-validated for liveness first; rotation then atomically invalidates the
// presented token and issues a fresh pair with a different refresh value.
func (p *Provider) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*auth.OAuthTokens, error) {
	invalidToken := errors.NewOAuthError(errors.ErrInvalidGrant, "Invalid or expired refresh token", "")

	session, ok := p.tokens.RefreshSession(refreshToken)
	if !ok {
		return nil, invalidToken
	}
	if _, err := p.upstream.CurrentSession(ctx, session.AccessToken); err != nil {
		p.logger.Info("upstream session no longer live", "error", err)
		return nil, invalidToken
	}

	tokens, ok := p.tokens.Rotate(refreshToken)
	if !ok {
		return nil, invalidToken
	}
	return tokens, nil
}

// ClientCredentials authenticates the configured service client and issues an
// access token with no refresh token. The comparison hashes both sides first
// so it stays constant-time even when the candidate and expected values
// differ in length.
func (p *Provider) ClientCredentials(clientID, clientSecret string) (*auth.OAuthTokens, error) {
	invalidClient := errors.NewOAuthError(errors.ErrInvalidClient, "Invalid client credentials", "")

	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return nil, invalidClient
	}
	idMatch := constantTimeEqual(clientID, p.cfg.ClientID)
	secretMatch := constantTimeEqual(clientSecret, p.cfg.ClientSecret)
	if !idMatch || !secretMatch {
		return nil, invalidClient
	}

	return p.tokens.Issue(&Session{
		Host:     p.cfg.ServerHost(),
		SiteName: p.cfg.SiteName,
	}, false), nil
}

func constantTimeEqual(candidate, expected string) bool {
	candidateSum := sha256.Sum256([]byte(candidate))
	expectedSum := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(candidateSum[:], expectedSum[:]) == 1
}

// VerifyAccessToken resolves a façade access token to its bound session.
func (p *Provider) VerifyAccessToken(token string) (*AuthInfo, error) {
	info, ok := p.tokens.Access(token)
	if !ok {
		return nil, errors.NewOAuthError(errors.ErrInvalidToken, "Invalid or expired access token", "")
	}
	return info, nil
}
