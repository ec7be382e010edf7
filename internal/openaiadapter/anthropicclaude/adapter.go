package anthropicclaude

import (
	"context"
	"iter"
	"net/http"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// Config holds the upstream parameters of the adapter. All values come from
// application configuration.
type Config struct {
	// APIBase is the base URL for the Messages API.
	APIBase string
	// Version is the anthropic-version header value.
	Version string
	// Beta is the anthropic-beta header value list, comma-joined on the wire.
	Beta []string
	// DefaultModel is used when the client omits the model.
	DefaultModel string
	// DefaultMaxTokens is used when the client supplies no token budget.
	// Anthropic requires max_tokens on every request.
	DefaultMaxTokens int64
}

// Adapter translates OpenAI chat completion requests into Anthropic Messages
// calls. It is stateless; per-request authentication lives in the transport.
type Adapter struct {
	cfg Config
}

// Compile-time check that Adapter satisfies the chat completion contract.
var _ openaiadapter.ChatCompletionAdapter = (*Adapter)(nil)

// New creates an adapter with the given upstream configuration.
func New(cfg Config) *Adapter {
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 4096
	}
	return &Adapter{cfg: cfg}
}

// ProcessRequest implements openaiadapter.ChatCompletionAdapter for buffered
// responses.
func (a *Adapter) ProcessRequest(ctx context.Context, clientReq openaiadapter.ChatCompletionRequest, transport http.RoundTripper) (*openaiadapter.ChatCompletion, error) {
	params, model, err := a.translateRequest(clientReq)
	if err != nil {
		return nil, err
	}

	client, err := a.newClient(transport)
	if err != nil {
		return nil, err
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, toOpenAIError(err)
	}

	return toChatCompletion(message, model), nil
}

// ProcessStreamingRequest implements openaiadapter.ChatCompletionAdapter for
// streamed responses. Errors that occur before any upstream event (including
// non-2xx statuses) are returned directly; later failures surface through
// the iterator.
func (a *Adapter) ProcessStreamingRequest(ctx context.Context, clientReq openaiadapter.ChatCompletionRequest, transport http.RoundTripper) (iter.Seq2[*openaiadapter.ChatCompletionChunk, error], error) {
	params, model, err := a.translateRequest(clientReq)
	if err != nil {
		return nil, err
	}

	client, err := a.newClient(transport)
	if err != nil {
		return nil, err
	}

	stream := client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, toOpenAIError(err)
	}

	return newBridge(stream, model).events, nil
}
