package server

import (
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/auth/store"
)

// defaultAccessTokenTTL applies when the upstream response carries no
// expires_in, and to client_credentials tokens, which have no upstream
// session lifetime to inherit.
const defaultAccessTokenTTL = 3600

// newOpaqueToken returns a fresh high-entropy opaque token value.
func newOpaqueToken() string {
	return oauth2.GenerateVerifier()
}

type refreshRecord struct {
	session *Session

	// issuedAt anchors the absolute refresh lifetime. Rotation copies it to
	// the replacement record unchanged, so rotating never extends the window.
	issuedAt time.Time
}

// tokenStore holds issued façade tokens. Access tokens expire lazily on
// lookup; refresh tokens are bounded by an absolute lifetime measured from
// first issuance. Every mutation is a single operation under one lock, so
// rotation is atomic: of two interleaved redemptions of the same refresh
// token, exactly one succeeds.
type tokenStore struct {
	mu              sync.Mutex
	access          map[string]*AuthInfo
	refresh         map[string]*refreshRecord
	refreshLifetime time.Duration
	clock           store.Clock
}

func newTokenStore(refreshLifetime time.Duration, clock store.Clock) *tokenStore {
	return &tokenStore{
		access:          make(map[string]*AuthInfo),
		refresh:         make(map[string]*refreshRecord),
		refreshLifetime: refreshLifetime,
		clock:           clock,
	}
}

func accessTokenTTL(session *Session) time.Duration {
	seconds := session.ExpiresIn
	if seconds <= 0 {
		seconds = defaultAccessTokenTTL
	}
	return time.Duration(seconds) * time.Second
}

// Issue mints a token pair bound to session. withRefresh selects whether a
// refresh token accompanies the access token.
func (s *tokenStore) Issue(session *Session, withRefresh bool) *auth.OAuthTokens {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(session, withRefresh, s.clock.Now())
}

func (s *tokenStore) issueLocked(session *Session, withRefresh bool, refreshIssuedAt time.Time) *auth.OAuthTokens {
	ttl := accessTokenTTL(session)
	accessToken := newOpaqueToken()
	s.access[accessToken] = &AuthInfo{
		Token:     accessToken,
		Session:   session,
		ExpiresAt: s.clock.Now().Add(ttl),
	}

	tokens := &auth.OAuthTokens{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl / time.Second),
	}
	if withRefresh {
		refreshToken := newOpaqueToken()
		s.refresh[refreshToken] = &refreshRecord{
			session:  session,
			issuedAt: refreshIssuedAt,
		}
		tokens.RefreshToken = refreshToken
	}
	return tokens
}

// Access returns the AuthInfo bound to an access token. A token at or past
// its expiry instant is indistinguishable from one that never existed.
func (s *tokenStore) Access(token string) (*AuthInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.access[token]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(info.ExpiresAt) {
		delete(s.access, token)
		return nil, false
	}
	return info, true
}

// RefreshSession returns the session bound to a refresh token without
// consuming it, so the caller can re-validate upstream liveness before
// committing to rotation. A token past its absolute lifetime is removed and
// reported as absent.
func (s *tokenStore) RefreshSession(token string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveRefreshLocked(token)
	if !ok {
		return nil, false
	}
	return rec.session, true
}

// Rotate redeems a refresh token for a fresh token pair, permanently
// invalidating the old value in the same operation. The replacement refresh
// token keeps the original issuance anchor. Returns false when the token is
// unknown, already rotated, or past its absolute lifetime.
func (s *tokenStore) Rotate(token string) (*auth.OAuthTokens, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveRefreshLocked(token)
	if !ok {
		return nil, false
	}
	delete(s.refresh, token)
	return s.issueLocked(rec.session, true, rec.issuedAt), true
}

func (s *tokenStore) liveRefreshLocked(token string) (*refreshRecord, bool) {
	rec, ok := s.refresh[token]
	if !ok {
		return nil, false
	}
	if !s.clock.Now().Before(rec.issuedAt.Add(s.refreshLifetime)) {
		delete(s.refresh, token)
		return nil, false
	}
	return rec, true
}
