package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/auth/tableau"
	"github.com/til-jmac/tableau-mcp/internal/config"
	"github.com/til-jmac/tableau-mcp/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubUpstream serves the handler tests: URL building is real, the
// network-bound calls are canned.
type stubUpstream struct {
	base        *tableau.Client
	exchangeErr error
	sessionErr  error
	response    *tableau.TokenResponse
}

func newStubUpstream(t *testing.T) *stubUpstream {
	t.Helper()
	base, err := tableau.NewClient("https://tableau.example.com", "mysite", nil)
	require.NoError(t, err)
	return &stubUpstream{
		base: base,
		response: &tableau.TokenResponse{
			AccessToken:  "upstream-access",
			RefreshToken: "upstream-refresh",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			Host:         "tableau.example.com",
			SiteName:     "mysite",
			UserID:       "user-1",
		},
	}
}

func (s *stubUpstream) AuthorizeURL(req tableau.AuthorizeRequest) string {
	return s.base.AuthorizeURL(req)
}

func (s *stubUpstream) ExchangeCode(context.Context, string, string, string, string) (*tableau.TokenResponse, error) {
	if s.exchangeErr != nil {
		return nil, s.exchangeErr
	}
	return s.response, nil
}

func (s *stubUpstream) CurrentSession(context.Context, string) (*tableau.SessionInfo, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return &tableau.SessionInfo{}, nil
}

func handlerTestConfig() *config.Config {
	return &config.Config{
		Server:                "https://tableau.example.com",
		SiteName:              "mysite",
		OAuthEnabled:          true,
		RedirectBaseURL:       "https://mcp.example.com",
		AuthCodeTimeoutMS:     300000,
		RefreshTokenTimeoutMS: (14 * 24 * time.Hour).Milliseconds(),
		ClientID:              "service-client",
		ClientSecret:          "service-secret",
		ListenAddr:            ":3927",
	}
}

func newHandlerProvider(t *testing.T) (*server.Provider, *stubUpstream) {
	t.Helper()
	upstream := newStubUpstream(t)
	p, err := server.NewProvider(handlerTestConfig(), upstream, nil, nil)
	require.NoError(t, err)
	return p, upstream
}

// serve runs a single request through a gin handler and returns the recorder.
func serve(h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h(c)
	return w
}

func decodeOAuthError(t *testing.T, body io.Reader) errors.OAuthErrorResponse {
	t.Helper()
	var resp errors.OAuthErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}
