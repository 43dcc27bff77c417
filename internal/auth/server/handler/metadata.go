package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/config"
)

// NewAuthorizationServerMetadata builds the RFC 8414 document from process
// configuration. No external calls.
func NewAuthorizationServerMetadata(cfg *config.Config) auth.OAuthMetadata {
	base := cfg.IssuerURL()
	return auth.OAuthMetadata{
		Issuer:                            base,
		AuthorizationEndpoint:             base + "/oauth/authorize",
		TokenEndpoint:                     base + "/oauth/token",
		RegistrationEndpoint:              base + "/oauth/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token", "client_credentials"},
		CodeChallengeMethodsSupported:     []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post", "none"},
	}
}

// NewProtectedResourceMetadata builds the RFC 9728 document advertising this
// process as both the resource server and its authorization server.
func NewProtectedResourceMetadata(cfg *config.Config) auth.OAuthProtectedResourceMetadata {
	return auth.OAuthProtectedResourceMetadata{
		Resource:               cfg.ResourceURL(),
		AuthorizationServers:   []string{cfg.IssuerURL()},
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "Tableau MCP Server",
	}
}

// MetadataHandler serves a static discovery document. Accessible from any
// origin so web-based MCP clients can self-discover the flow.
func MetadataHandler(document any) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusOK)
			return
		}
		c.JSON(http.StatusOK, document)
	}
}
