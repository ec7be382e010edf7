package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/awenger/anthropic-oauth-proxy/internal/observability/middleware"
	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// maxRequestBytes bounds inbound request bodies. Chat requests are text;
// anything larger is abuse or a bug.
const maxRequestBytes = 10 << 20

// ReadinessChecker reports whether the application is ready to serve.
type ReadinessChecker interface {
	IsReady() bool
}

// Config assembles the proxy's collaborators.
type Config struct {
	// Adapter translates chat completions to the upstream provider.
	Adapter openaiadapter.ChatCompletionAdapter
	// Transport is the authenticated upstream transport chain.
	Transport http.RoundTripper
	// Auth serves the login endpoints.
	Auth *AuthHandler
	// Readiness gates the readiness probe.
	Readiness ReadinessChecker
	// Models is the static model listing.
	Models []string
}

// Proxy is the loopback HTTP server exposing the OpenAI-compatible surface.
// Inbound Authorization headers are deliberately not validated; the binding
// is loopback-only by contract.
type Proxy struct {
	handler http.Handler
	server  *http.Server
}

// New assembles the route table and middleware chain.
func New(cfg Config) (*Proxy, error) {
	if cfg.Adapter == nil {
		return nil, errors.New("adapter is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth handler is required")
	}
	if cfg.Readiness == nil {
		return nil, errors.New("readiness checker is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthzHandler())
	mux.HandleFunc("GET /readyz", readinessHandler(cfg.Readiness))
	mux.HandleFunc("GET /auth/login", cfg.Auth.Login)
	mux.HandleFunc("POST /auth/exchange", cfg.Auth.Exchange)
	mux.HandleFunc("GET /auth/status", cfg.Auth.Status)
	mux.HandleFunc("GET /v1/models", modelsHandler(cfg.Models))
	mux.Handle("POST /v1/chat/completions", &ChatCompletionsHandler{
		Adapter:   cfg.Adapter,
		Transport: cfg.Transport,
	})

	handler := applyMiddlewares(mux,
		middleware.RequestIDGeneration,
		middleware.TraceContextExtraction,
		middleware.Logging(slog.Default()),
		middleware.RequestIDPropagation,
		Recovery,
		RequestSizeLimit(maxRequestBytes),
	)

	return &Proxy{handler: handler}, nil
}

// ServeHTTP implements http.Handler so tests can drive the proxy without a
// listener.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.handler.ServeHTTP(w, r)
}

// Start binds addr and serves in the background until Shutdown is called or
// the server fails; ctx becomes the base context of every request, and
// cancelling it does not stop the server. The returned channel receives at
// most one runtime error.
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}

	p.server = &http.Server{
		Handler:           p.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout stays 0: streamed responses are open-ended; idle
		// detection happens through client disconnect.
		IdleTimeout: 2 * time.Minute,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	slog.InfoContext(ctx, "proxy listening", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := p.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown drains in-flight requests and stops the server.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}
	return p.server.Shutdown(ctx)
}
