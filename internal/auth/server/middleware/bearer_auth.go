// Package middleware provides the gin middleware shared by the façade's
// OAuth endpoints and the protected resource.
package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// TokenVerifier resolves a façade access token to its bound session.
// Satisfied by *server.Provider.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*server.AuthInfo, error)
}

// RequireBearerAuth gates resource requests on a valid bearer token. Failures
// answer 401 with a WWW-Authenticate challenge pointing at the protected
// resource metadata, so standards-compliant clients can self-discover the
// flow. On success the verified AuthInfo is attached to the request context.
func RequireBearerAuth(verifier TokenVerifier, resourceMetadataURL string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeChallenge(c, resourceMetadataURL, "Missing or malformed Authorization header")
			return
		}

		info, err := verifier.VerifyAccessToken(token)
		if err != nil {
			oauthErr := errors.AsOAuthError(err, errors.ErrInvalidToken, "Invalid or expired access token")
			writeChallenge(c, resourceMetadataURL, oauthErr.Message)
			return
		}

		c.Request = c.Request.WithContext(server.WithAuthInfo(c.Request.Context(), info))
		c.Next()
	}
}

func writeChallenge(c *gin.Context, resourceMetadataURL, description string) {
	c.Header("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm="mcp", error="invalid_token", error_description=%q, resource_metadata=%q`,
		description, resourceMetadataURL))
	c.Header("Cache-Control", "no-store")
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		errors.NewOAuthError(errors.ErrInvalidToken, description, "").ToResponseStruct())
}
