package handler

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// TokenHandlerOptions defines configuration options for the token endpoint.
type TokenHandlerOptions struct {
	Provider  *server.Provider
	RateLimit *rate.Limiter
}

// AuthorizationCodeGrant defines the authorization_code grant request.
type AuthorizationCodeGrant struct {
	Code         string `json:"code" validate:"required"`
	CodeVerifier string `json:"code_verifier" validate:"required"`
}

// RefreshTokenGrant defines the refresh_token grant request.
type RefreshTokenGrant struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TokenHandler creates the token endpoint handler dispatching on grant_type.
func TokenHandler(options TokenHandlerOptions) gin.HandlerFunc {
	validate := validator.New()

	return func(c *gin.Context) {
		// CORS headers to allow access from any origin, to support web-based
		// MCP clients.
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		c.Header("Cache-Control", "no-store")

		if options.RateLimit != nil && !options.RateLimit.Allow() {
			writeOAuthError(c, http.StatusTooManyRequests, errors.NewOAuthError(errors.ErrTooManyRequests,
				"You have exceeded the rate limit for token requests", ""))
			return
		}

		if err := c.Request.ParseForm(); err != nil {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest,
				"Failed to parse form data", ""))
			return
		}

		switch c.Request.FormValue("grant_type") {
		case "authorization_code":
			handleAuthorizationCodeGrant(c, validate, options.Provider)
		case "refresh_token":
			handleRefreshTokenGrant(c, validate, options.Provider)
		case "client_credentials":
			handleClientCredentialsGrant(c, options.Provider)
		default:
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrUnsupportedGrantType,
				"The grant type is not supported by this authorization server.", ""))
		}
	}
}

func handleAuthorizationCodeGrant(c *gin.Context, validate *validator.Validate, provider *server.Provider) {
	grant := AuthorizationCodeGrant{
		Code:         c.Request.FormValue("code"),
		CodeVerifier: c.Request.FormValue("code_verifier"),
	}
	if err := validate.Struct(grant); err != nil {
		writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest, err.Error(), ""))
		return
	}

	tokens, err := provider.ExchangeAuthorizationCode(grant.Code, grant.CodeVerifier)
	if err != nil {
		writeOAuthErrorFrom(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func handleRefreshTokenGrant(c *gin.Context, validate *validator.Validate, provider *server.Provider) {
	grant := RefreshTokenGrant{
		RefreshToken: c.Request.FormValue("refresh_token"),
	}
	if err := validate.Struct(grant); err != nil {
		writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest, err.Error(), ""))
		return
	}

	tokens, err := provider.ExchangeRefreshToken(c.Request.Context(), grant.RefreshToken)
	if err != nil {
		writeOAuthErrorFrom(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

func handleClientCredentialsGrant(c *gin.Context, provider *server.Provider) {
	clientID, clientSecret, err := clientCredentialsFrom(c)
	if err != nil {
		writeOAuthErrorFrom(c, err)
		return
	}

	tokens, err := provider.ClientCredentials(clientID, clientSecret)
	if err != nil {
		writeOAuthErrorFrom(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// clientCredentialsFrom extracts the client id and secret from a Basic auth
// header when present, falling back to the form body.
func clientCredentialsFrom(c *gin.Context) (string, string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return c.Request.FormValue("client_id"), c.Request.FormValue("client_secret"), nil
	}

	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", errors.NewOAuthError(errors.ErrInvalidClient, "Invalid authorization type", "")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", errors.NewOAuthError(errors.ErrInvalidClient, "Invalid authorization type", "")
	}
	rawID, rawSecret, found := strings.Cut(string(decoded), ":")
	if !found {
		return "", "", errors.NewOAuthError(errors.ErrInvalidClient, "Invalid authorization type", "")
	}

	// RFC 6749 section 2.3.1: both values are form-urlencoded before being
	// joined and base64-encoded.
	clientID, err := url.QueryUnescape(rawID)
	if err != nil {
		return "", "", errors.NewOAuthError(errors.ErrInvalidClient, "Invalid authorization type", "")
	}
	clientSecret, err := url.QueryUnescape(rawSecret)
	if err != nil {
		return "", "", errors.NewOAuthError(errors.ErrInvalidClient, "Invalid authorization type", "")
	}
	return clientID, clientSecret, nil
}
