package server

import "time"

// Session is the upstream Tableau session minted during the callback exchange.
// Every façade access and refresh token is bound to exactly one Session.
type Session struct {
	// AccessToken and RefreshToken are the upstream provider's tokens. They
	// never leave the process; clients only ever see façade tokens.
	AccessToken  string
	RefreshToken string

	// ExpiresIn is the upstream access-token lifetime in seconds, reused as
	// the lifetime of façade access tokens issued against this session.
	ExpiresIn int64

	Host     string
	SiteName string
	UserID   string
}

// PendingAuthorization captures one in-flight authorization between the
// authorize redirect and the upstream callback.
type PendingAuthorization struct {
	// ClientID, RedirectURI, CodeChallenge, and State belong to the external
	// client that started the flow. State is echoed back verbatim.
	ClientID      string
	RedirectURI   string
	CodeChallenge string
	State         string

	// TableauState, TableauClientID, and TableauCodeVerifier belong to the
	// façade's own exchange with the upstream provider.
	TableauState        string
	TableauClientID     string
	TableauCodeVerifier string
}

// AuthorizationCode is a single-use internal code minted at callback time and
// redeemed at the token endpoint.
type AuthorizationCode struct {
	RedirectURI   string
	CodeChallenge string
	Session       *Session
}

// AuthInfo describes a verified façade access token, handed to resource
// handlers through the request context.
type AuthInfo struct {
	Token     string
	Session   *Session
	ExpiresAt time.Time
}
