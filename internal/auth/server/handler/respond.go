// Package handler implements the façade's OAuth HTTP endpoints as gin
// handlers, each built from a HandlerOptions struct.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// writeOAuthError writes an OAuth error body with an explicit status.
func writeOAuthError(c *gin.Context, status int, oauthErr errors.OAuthError) {
	c.JSON(status, oauthErr.ToResponseStruct())
}

// writeOAuthErrorFrom maps any error to its OAuth response. Non-OAuth errors
// collapse to a generic server_error so internal detail never leaks.
func writeOAuthErrorFrom(c *gin.Context, err error) {
	oauthErr := errors.AsOAuthError(err, errors.ErrServerError, "Internal Server Error")
	writeOAuthError(c, statusForOAuthError(oauthErr.ErrorCode), oauthErr)
}

func statusForOAuthError(code string) int {
	switch code {
	case errors.ErrInvalidClient, errors.ErrInvalidToken, errors.ErrUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrServerError:
		return http.StatusInternalServerError
	case errors.ErrTooManyRequests:
		return http.StatusTooManyRequests
	case errors.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusBadRequest
	}
}
