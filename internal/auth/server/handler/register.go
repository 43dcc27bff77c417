package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/til-jmac/tableau-mcp/internal/auth"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// ClientRegistrationHandlerOptions contains configuration for the dynamic
// registration endpoint.
type ClientRegistrationHandlerOptions struct {
	RateLimit *rate.Limiter
}

// ClientRegistrationHandler creates the dynamic registration endpoint. It is
// a validator plus constant responder: every caller that presents acceptable
// redirect URIs receives the same fixed public client, and nothing is stored.
func ClientRegistrationHandler(options ClientRegistrationHandlerOptions) gin.HandlerFunc {
	validate := validator.New()

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Cache-Control", "no-store")

		if options.RateLimit != nil && !options.RateLimit.Allow() {
			writeOAuthError(c, http.StatusTooManyRequests, errors.NewOAuthError(errors.ErrTooManyRequests,
				"You have exceeded the rate limit for client registration requests", ""))
			return
		}

		var req auth.ClientRegistrationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidClientMetadata,
				"Request body must be a valid JSON client metadata document", ""))
			return
		}
		if err := validate.Struct(req); err != nil {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidClientMetadata, err.Error(), ""))
			return
		}
		for _, uri := range req.RedirectURIs {
			if !IsValidRedirectURI(uri) {
				writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRedirectURI,
					"Invalid redirect URI: "+uri, ""))
				return
			}
		}

		c.JSON(http.StatusCreated, auth.PublicClientDescriptor{
			ClientID:                auth.PublicClientID,
			RedirectURIs:            req.RedirectURIs,
			GrantTypes:              []string{"authorization_code", "client_credentials"},
			ResponseTypes:           []string{"code"},
			TokenEndpointAuthMethod: "client_secret_basic",
			ApplicationType:         "native",
		})
	}
}
