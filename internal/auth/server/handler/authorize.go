package handler

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/til-jmac/tableau-mcp/internal/auth/cimd"
	"github.com/til-jmac/tableau-mcp/internal/auth/pkce"
	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// AuthorizationHandlerOptions contains configuration for the authorization
// endpoint.
type AuthorizationHandlerOptions struct {
	Provider *server.Provider

	// Resolver fetches client metadata documents for URL-shaped client ids.
	Resolver *cimd.Resolver
}

// AuthorizationRequestParams is the validated shape of an authorization
// request. Validation reports every failing field, not just the first.
type AuthorizationRequestParams struct {
	ClientID            string `json:"client_id" validate:"required"`
	RedirectURI         string `json:"redirect_uri" validate:"required"`
	ResponseType        string `json:"response_type" validate:"required"`
	CodeChallenge       string `json:"code_challenge" validate:"required"`
	CodeChallengeMethod string `json:"code_challenge_method" validate:"required"`
	State               string `json:"state,omitempty"`
}

// AuthorizationHandler creates the authorize endpoint: it validates the
// external client's request and answers with a 302 to the upstream provider's
// consent screen.
func AuthorizationHandler(options AuthorizationHandlerOptions) gin.HandlerFunc {
	validate := validator.New()

	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")

		params := parseAuthorizationParams(c)
		if err := validate.Struct(params); err != nil {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest, err.Error(), ""))
			return
		}
		if params.ResponseType != "code" {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrUnsupportedResponseType,
				"Only response_type=code is supported", ""))
			return
		}
		if params.CodeChallengeMethod != "S256" {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest,
				"Only code_challenge_method=S256 is supported", ""))
			return
		}
		if err := pkce.ValidateChallengeFormat(params.CodeChallenge); err != nil {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest, err.Error(), ""))
			return
		}
		if !IsValidRedirectURI(params.RedirectURI) {
			writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest,
				"Invalid redirect URI: "+params.RedirectURI, ""))
			return
		}

		// A URL-shaped client_id identifies a CIMD client; its fetched
		// document is authoritative for the allowed redirect URIs.
		if cimd.IsMetadataURL(params.ClientID) {
			doc, err := options.Resolver.Resolve(c.Request.Context(), params.ClientID)
			if err != nil {
				writeOAuthErrorFrom(c, err)
				return
			}
			if !slices.Contains(doc.RedirectURIs, params.RedirectURI) {
				writeOAuthError(c, http.StatusBadRequest, errors.NewOAuthError(errors.ErrInvalidRequest,
					"Redirect URI is not registered in the client metadata document", ""))
				return
			}
		}

		redirect, err := options.Provider.StartAuthorization(server.AuthorizationParams{
			ClientID:      params.ClientID,
			RedirectURI:   params.RedirectURI,
			CodeChallenge: params.CodeChallenge,
			State:         params.State,
			DeviceName:    deviceNameFor(params.RedirectURI),
		})
		if err != nil {
			writeOAuthErrorFrom(c, err)
			return
		}
		c.Redirect(http.StatusFound, redirect)
	}
}

func parseAuthorizationParams(c *gin.Context) AuthorizationRequestParams {
	read := func(name string) string {
		if c.Request.Method == http.MethodPost {
			return strings.TrimSpace(c.Request.FormValue(name))
		}
		return strings.TrimSpace(c.Query(name))
	}
	return AuthorizationRequestParams{
		ClientID:            read("client_id"),
		RedirectURI:         read("redirect_uri"),
		ResponseType:        read("response_type"),
		CodeChallenge:       read("code_challenge"),
		CodeChallengeMethod: read("code_challenge_method"),
		State:               read("state"),
	}
}

// deviceNameFor derives a display name for the upstream consent screen from
// the caller's redirect URI. Best effort only; never fails the request.
func deviceNameFor(redirectURI string) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "MCP Client"
	}
	hint := strings.ToLower(u.Scheme + " " + u.Host)
	switch {
	case strings.Contains(hint, "vscode"):
		return "Visual Studio Code"
	case strings.Contains(hint, "cursor"):
		return "Cursor"
	case strings.Contains(hint, "windsurf"):
		return "Windsurf"
	case strings.Contains(hint, "claude"):
		return "Claude"
	default:
		return "MCP Client"
	}
}
