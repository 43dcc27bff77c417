package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/til-jmac/tableau-mcp/internal/errors"
)

// CORS allows access from any origin, to support web-based MCP clients, and
// answers preflight requests directly.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") == "" {
			c.Next()
			return
		}

		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET,HEAD,PUT,PATCH,POST,DELETE")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// AllowedMethods rejects any request whose method is not listed with a 405
// and an Allow header.
func AllowedMethods(methods ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, method := range methods {
			if c.Request.Method == method {
				c.Next()
				return
			}
		}

		c.Header("Allow", strings.Join(methods, ", "))
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, errors.NewOAuthError(
			errors.ErrMethodNotAllowed,
			fmt.Sprintf("HTTP method %s not allowed", c.Request.Method),
			"",
		).ToResponseStruct())
	}
}

// RateLimit applies a shared token-bucket limiter to the route.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errors.NewOAuthError(
				errors.ErrTooManyRequests,
				"You have exceeded the rate limit for this endpoint",
				"",
			).ToResponseStruct())
			return
		}
		c.Next()
	}
}
