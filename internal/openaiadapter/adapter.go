// Package openaiadapter defines the OpenAI-compatible wire types accepted
// and produced by the proxy, and the adapter contract that transforms them
// into provider API calls.
package openaiadapter

import (
	"context"
	"iter"
	"net/http"
)

// Adapter defines the contract for transforming client requests to provider
// API calls.
//
// Type parameters allow the interface to express transformation contracts for
// different request/response shapes while maintaining compile-time type
// safety.
//
// Type parameters:
//   - TRequest:  Client-specific request structure
//   - TResponse: Client-specific response structure
//   - TChunk:    Client-specific streaming chunk protocol
type Adapter[TRequest, TResponse, TChunk any] interface {
	// ProcessRequest transforms the client request, calls the provider API, and returns
	// the transformed response. Implementations should remain stateless.
	ProcessRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (*TResponse, error)

	// ProcessStreamingRequest transforms the client request, calls the provider streaming API,
	// and returns an iterator of transformed chunks. Implementations should remain stateless.
	ProcessStreamingRequest(ctx context.Context, clientReq TRequest, transport http.RoundTripper) (iter.Seq2[*TChunk, error], error)
}

// ChatCompletionAdapter is the concrete adapter interface for the chat
// completions operation.
type ChatCompletionAdapter = Adapter[
	ChatCompletionRequest,
	ChatCompletion,
	ChatCompletionChunk,
]
