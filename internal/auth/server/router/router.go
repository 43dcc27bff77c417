// Package router assembles the façade's HTTP surface: the OAuth endpoints,
// the discovery documents, and the bearer-gated resource endpoint.
package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/til-jmac/tableau-mcp/internal/auth/cimd"
	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/auth/server/handler"
	"github.com/til-jmac/tableau-mcp/internal/auth/server/middleware"
	"github.com/til-jmac/tableau-mcp/internal/config"
)

// Default per-endpoint rate limits. Token exchanges are frequent (every
// refresh), registration is not.
const (
	tokenRequestsPerMinute    = 100
	registerRequestsPerMinute = 10
)

// Options wires the router's collaborators.
type Options struct {
	Config   *config.Config
	Provider *server.Provider

	// Resolver handles CIMD client ids on the authorize endpoint.
	Resolver *cimd.Resolver
}

// New builds the gin engine with every endpoint mounted.
func New(options Options) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS())

	authorize := handler.AuthorizationHandler(handler.AuthorizationHandlerOptions{
		Provider: options.Provider,
		Resolver: options.Resolver,
	})
	engine.Any("/oauth/authorize",
		middleware.AllowedMethods(http.MethodGet, http.MethodPost),
		authorize)

	engine.Any("/Callback",
		middleware.AllowedMethods(http.MethodGet),
		handler.CallbackHandler(handler.CallbackHandlerOptions{Provider: options.Provider}))

	engine.Any("/oauth/token",
		middleware.AllowedMethods(http.MethodPost),
		handler.TokenHandler(handler.TokenHandlerOptions{
			Provider:  options.Provider,
			RateLimit: perMinute(tokenRequestsPerMinute),
		}))

	engine.Any("/oauth/register",
		middleware.AllowedMethods(http.MethodPost),
		handler.ClientRegistrationHandler(handler.ClientRegistrationHandlerOptions{
			RateLimit: perMinute(registerRequestsPerMinute),
		}))

	engine.GET("/.well-known/oauth-authorization-server",
		handler.MetadataHandler(handler.NewAuthorizationServerMetadata(options.Config)))
	engine.GET("/.well-known/oauth-protected-resource",
		handler.MetadataHandler(handler.NewProtectedResourceMetadata(options.Config)))

	resource := engine.Group("/mcp",
		middleware.RequireBearerAuth(options.Provider, options.Config.ProtectedResourceMetadataURL()))
	resource.GET("", resourceHandler)
	resource.POST("", resourceHandler)

	return engine
}

func perMinute(requests int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requests)), requests)
}

// resourceHandler reports the upstream session bound to the presented token.
// The tool layer hangs off this route and uses the session to construct
// per-request upstream API credentials.
func resourceHandler(c *gin.Context) {
	info, ok := server.GetAuthInfo(c.Request.Context())
	if !ok {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"host": info.Session.Host,
		"site": info.Session.SiteName,
		"user": info.Session.UserID,
	})
}
