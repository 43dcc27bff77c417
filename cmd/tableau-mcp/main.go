// Command tableau-mcp runs the OAuth authorization façade in front of a
// Tableau server for dynamically registering MCP clients.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/til-jmac/tableau-mcp/internal/auth/cimd"
	"github.com/til-jmac/tableau-mcp/internal/auth/server"
	"github.com/til-jmac/tableau-mcp/internal/auth/server/router"
	"github.com/til-jmac/tableau-mcp/internal/auth/tableau"
	"github.com/til-jmac/tableau-mcp/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.OAuthEnabled {
		return errors.New("OAUTH_ENABLED must be true to serve the OAuth endpoints")
	}

	upstream, err := tableau.NewClient(cfg.Server, cfg.SiteName, nil)
	if err != nil {
		return err
	}
	resolver, err := cimd.NewResolver(cimd.Options{Logger: logger})
	if err != nil {
		return err
	}
	provider, err := server.NewProvider(cfg, upstream, nil, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router.New(router.Options{Config: cfg, Provider: provider, Resolver: resolver}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	logger.Info("listening",
		"addr", cfg.ListenAddr,
		"issuer", cfg.IssuerURL(),
		"upstream", cfg.Server,
		"site", cfg.SiteName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
