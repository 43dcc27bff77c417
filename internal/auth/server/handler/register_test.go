package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

func registerRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/oauth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestClientRegistrationReturnsFixedPublicClient(t *testing.T) {
	h := ClientRegistrationHandler(ClientRegistrationHandlerOptions{})

	w := serve(h, registerRequest(`{"redirect_uris":["https://example.com","vscode://oauth/callback"]}`))
	require.Equal(t, http.StatusCreated, w.Code)

	var descriptor auth.PublicClientDescriptor
	require.NoError(t, json.NewDecoder(w.Body).Decode(&descriptor))
	assert.Equal(t, auth.PublicClientID, descriptor.ClientID)
	assert.Equal(t, []string{"https://example.com", "vscode://oauth/callback"}, descriptor.RedirectURIs)
	assert.Equal(t, []string{"authorization_code", "client_credentials"}, descriptor.GrantTypes)
	assert.Equal(t, []string{"code"}, descriptor.ResponseTypes)
	assert.Equal(t, "client_secret_basic", descriptor.TokenEndpointAuthMethod)
	assert.Equal(t, "native", descriptor.ApplicationType)
}

func TestClientRegistrationIsStateless(t *testing.T) {
	h := ClientRegistrationHandler(ClientRegistrationHandlerOptions{})

	first := serve(h, registerRequest(`{"redirect_uris":["https://a.example.com"]}`))
	second := serve(h, registerRequest(`{"redirect_uris":["https://b.example.com"]}`))
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)

	var a, b auth.PublicClientDescriptor
	require.NoError(t, json.NewDecoder(first.Body).Decode(&a))
	require.NoError(t, json.NewDecoder(second.Body).Decode(&b))
	assert.Equal(t, a.ClientID, b.ClientID)
}

func TestClientRegistrationNamesOffendingURI(t *testing.T) {
	h := ClientRegistrationHandler(ClientRegistrationHandlerOptions{})

	w := serve(h, registerRequest(`{"redirect_uris":["https://good.example.com","http://example.com/bad"]}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeOAuthError(t, w.Body)
	assert.Equal(t, errors.ErrInvalidRedirectURI, resp.Error)
	assert.Contains(t, resp.ErrorDescription, "http://example.com/bad")
}

func TestClientRegistrationRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not JSON", "{nope"},
		{"missing redirect_uris", `{}`},
		{"empty redirect_uris", `{"redirect_uris":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := ClientRegistrationHandler(ClientRegistrationHandlerOptions{})
			w := serve(h, registerRequest(tt.body))
			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeOAuthError(t, w.Body)
			assert.Equal(t, errors.ErrInvalidClientMetadata, resp.Error)
		})
	}
}
