package anthropicclaude

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// newClient creates an Anthropic client with the provided transport.
// The transport chain handles authentication (bearer attach + one-shot 401
// retry), so the SDK is configured without an API key.
func (a *Adapter) newClient(transport http.RoundTripper) (*anthropic.Client, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}

	httpClient := &http.Client{
		Transport: transport,
		// Client.Timeout = 0 allows long-running SSE streams (the proxy server sets no WriteTimeout either)
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		// Generous RequestTimeout bypasses SDK maxTokens checks; the proxy server sets no WriteTimeout
		option.WithRequestTimeout(1 * time.Hour),
		// Retry policy lives in the auth transport (one-shot 401 retry);
		// SDK-level retries would duplicate requests and mask upstream
		// statuses that must pass through.
		option.WithMaxRetries(0),
	}
	if a.cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(a.cfg.APIBase))
	}
	if a.cfg.Version != "" {
		opts = append(opts, option.WithHeader("anthropic-version", a.cfg.Version))
	}
	if len(a.cfg.Beta) > 0 {
		opts = append(opts, option.WithHeader("anthropic-beta", strings.Join(a.cfg.Beta, ",")))
	}

	client := anthropic.NewClient(opts...)
	return &client, nil
}
