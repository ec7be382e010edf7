// Package app wires configuration, credential management, the protocol
// adapter, and the HTTP server into one supervised lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awenger/anthropic-oauth-proxy/internal/config"
	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter/anthropicclaude"
	"github.com/awenger/anthropic-oauth-proxy/internal/proxy"
	"github.com/awenger/anthropic-oauth-proxy/internal/tokensource"
	"github.com/awenger/anthropic-oauth-proxy/internal/tokenstore"
)

// upstreamConnectTimeout bounds connection establishment to Anthropic.
// Streamed reads are deliberately unbounded; idle streams end via client
// disconnect.
const upstreamConnectTimeout = 60 * time.Second

// App orchestrates the lifecycle of the proxy server and related services.
type App struct {
	cfg    *config.Config
	proxy  *proxy.Proxy
	health *Health
}

// NewTokenStore builds the configured credential storage backend.
func NewTokenStore(cfg *config.Config) (tokenstore.Store, error) {
	switch cfg.Credentials.Storage {
	case config.StorageKeyring:
		return tokenstore.NewKeyringStore(), nil
	case config.StorageFile:
		return tokenstore.NewFileStore(cfg.Credentials.File)
	default:
		return nil, fmt.Errorf("unknown credential storage %q", cfg.Credentials.Storage)
	}
}

// NewAuthorizer builds the OAuth authorizer from configuration.
func NewAuthorizer(cfg *config.Config) *tokensource.Authorizer {
	return tokensource.NewAuthorizer(tokensource.Endpoints{
		AuthorizeBase: cfg.OAuth.AuthorizeBase,
		TokenBase:     cfg.OAuth.TokenBase,
		ClientID:      cfg.OAuth.ClientID,
		RedirectURL:   cfg.OAuth.RedirectURI,
		Scope:         cfg.OAuth.Scope,
	})
}

// New creates a new App instance.
func New(cfg *config.Config) (*App, error) {
	store, err := NewTokenStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	authorizer := NewAuthorizer(cfg)
	manager := tokensource.NewManager(authorizer, store)

	transport := &tokensource.Transport{
		Manager: manager,
		Base: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: upstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	adapter := anthropicclaude.New(anthropicclaude.Config{
		APIBase:          cfg.Anthropic.APIBase,
		Version:          cfg.Anthropic.Version,
		Beta:             cfg.Anthropic.Beta,
		DefaultModel:     cfg.Defaults.Model,
		DefaultMaxTokens: cfg.Defaults.MaxTokens,
	})

	health := NewHealth()

	proxyServer, err := proxy.New(proxy.Config{
		Adapter:   adapter,
		Transport: transport,
		Auth: &proxy.AuthHandler{
			Authorizer: authorizer,
			Manager:    manager,
		},
		Readiness: health,
		Models:    cfg.Models,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}

	return &App{
		cfg:    cfg,
		proxy:  proxyServer,
		health: health,
	}, nil
}

// Start starts all services and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting proxy server")
	proxyErrCh, err := a.proxy.Start(gCtx, a.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("proxy startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)
	a.health.SetReady(true)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "proxy runtime error", "error", err)
				return fmt.Errorf("proxy: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	runtimeErr := g.Wait()
	a.health.SetReady(false)

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
