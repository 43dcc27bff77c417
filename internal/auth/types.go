// Package auth holds the wire-level OAuth types shared between the façade's
// handlers, the client-metadata resolver and the upstream Tableau client.
package auth

// PublicClientID is the single client_id handed out by dynamic registration.
// Registration is stateless, so every registering client shares it; real
// client identity is carried by CIMD URLs or the configured service client.
const PublicClientID = "mcp-public-client"

// OAuthTokens defines the OAuth 2.1 token response.
type OAuthTokens struct {
	// AccessToken is the opaque access token, required.
	AccessToken string `json:"access_token"`

	// TokenType is the token type, always "Bearer".
	TokenType string `json:"token_type"`

	// ExpiresIn is the access token lifetime in seconds, driven by the
	// upstream provider (observed as 3600 in practice).
	ExpiresIn int64 `json:"expires_in,omitempty"`

	// RefreshToken is the opaque rotating refresh token. Absent for the
	// client_credentials grant.
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ClientMetadataDocument is an OAuth Client ID Metadata Document per
// draft-ietf-oauth-client-id-metadata-document. A client whose client_id is an
// HTTPS URL hosts this document at that URL; the authorization server fetches
// it to learn the client's registered redirect URIs.
type ClientMetadataDocument struct {
	// ClientID must equal the URL the document was fetched from.
	ClientID string `json:"client_id" validate:"required,url"`

	// RedirectURIs are authoritative for this client.
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1"`

	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	LogoURI                 string   `json:"logo_uri,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistrationRequest is the body of a dynamic registration request.
// Registration is stateless: only the redirect URIs matter.
type ClientRegistrationRequest struct {
	RedirectURIs []string `json:"redirect_uris" validate:"required,min=1"`
}

// PublicClientDescriptor is the fixed public-client record returned by the
// dynamic registration endpoint (RFC 7591 response shape). There is no
// per-registration storage; every caller receives the same client_id.
type PublicClientDescriptor struct {
	ClientID                string   `json:"client_id"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
}

// OAuthMetadata defines OAuth 2.0 Authorization Server Metadata (RFC 8414).
type OAuthMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// OAuthProtectedResourceMetadata defines OAuth Protected Resource Metadata
// (RFC 9728).
type OAuthProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers,omitempty"`
	BearerMethodsSupported []string `json:"bearer_methods_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}
