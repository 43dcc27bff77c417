package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// CallbackHandlerOptions contains configuration for the upstream callback
// endpoint.
type CallbackHandlerOptions struct {
	Provider *server.Provider
}

// CallbackHandler creates the endpoint the upstream provider redirects back
// to after the consent screen. On success it forwards the user agent to the
// external client with a freshly minted internal authorization code.
func CallbackHandler(options CallbackHandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")

		// Upstream denial or failure: pass the upstream code through with a
		// fixed description, never its free-form detail.
		if errParam := c.Query("error"); errParam != "" {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errParam,
				"Authorization was not granted by the identity provider", ""))
			return
		}

		code := c.Query("code")
		if code == "" {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest,
				"Missing code parameter", ""))
			return
		}

		redirect, err := options.Provider.CompleteCallback(c.Request.Context(), c.Query("state"), code)
		if err != nil {
			writeOAuthErrorFrom(c, err)
			return
		}
		c.Redirect(http.StatusFound, redirect)
	}
}
