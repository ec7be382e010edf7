package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// ChatCompletionsHandler handles OpenAI-compatible chat completion requests.
type ChatCompletionsHandler struct {
	Adapter   openaiadapter.ChatCompletionAdapter
	Transport http.RoundTripper
}

// Compile-time check to ensure ChatCompletionsHandler implements http.Handler
var _ http.Handler = (*ChatCompletionsHandler)(nil)

// ServeHTTP implements http.Handler for streaming or non-streaming requests.
func (h *ChatCompletionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req openaiadapter.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			slog.WarnContext(ctx, "request exceeds size limit", "limit_bytes", maxBytesErr.Limit)
			writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
				Err: openaiadapter.Error{
					Message: http.StatusText(http.StatusRequestEntityTooLarge),
					Type:    openaiadapter.ErrorTypeInvalidRequest,
				},
				StatusCode: http.StatusRequestEntityTooLarge,
			})
			return
		}
		slog.ErrorContext(ctx, "failed to decode request", "error", err)
		writeJSONOpenAIError(ctx, w, openaiadapter.InvalidRequestError("request body is not valid JSON"))
		return
	}

	if req.IsStream() {
		h.streamResponse(ctx, w, req)
	} else {
		h.writeResponse(ctx, w, req)
	}
}

// writeResponse handles non-streaming chat completion requests.
func (h *ChatCompletionsHandler) writeResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req openaiadapter.ChatCompletionRequest,
) {
	if ctx.Err() != nil {
		return
	}
	response, err := h.Adapter.ProcessRequest(ctx, req, h.Transport)
	if err != nil {
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONOpenAIError(ctx, w, asErrorResponse(err))
		return
	}

	writeJSON(ctx, w, response, http.StatusOK)
}

// streamResponse streams chat completion chunks using SSE.
func (h *ChatCompletionsHandler) streamResponse(
	ctx context.Context,
	w http.ResponseWriter,
	req openaiadapter.ChatCompletionRequest,
) {
	if ctx.Err() != nil {
		return
	}
	stream, err := h.Adapter.ProcessStreamingRequest(ctx, req, h.Transport)
	if err != nil {
		slog.ErrorContext(ctx, "streaming request failed", "error", err)
		writeJSONOpenAIError(ctx, w, asErrorResponse(err))
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		slog.ErrorContext(ctx, "SSE not supported", "error", err)
		writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
			Err: openaiadapter.Error{
				Message: http.StatusText(http.StatusInternalServerError),
				Type:    openaiadapter.ErrorTypeAPI,
			},
		})
		return
	}

	for chunk, err := range stream {
		// Check for client disconnect before processing chunk
		if ctx.Err() != nil {
			slog.DebugContext(ctx, "client disconnected during stream")
			return
		}

		if err != nil {
			// Errors surface through the iterator only before the first
			// chunk; later upstream failures arrive as an annotated terminal
			// chunk. OpenAI SDKs recognize the {"error": {...}} event format
			// and stop reading immediately.
			slog.ErrorContext(ctx, "stream error", "error", err)
			if writeErr := sse.WriteEvent("error"); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error event type", "error", writeErr)
				return
			}
			if writeErr := sse.WriteData(asErrorResponse(err)); writeErr != nil {
				slog.ErrorContext(ctx, "failed to write error", "error", writeErr)
			}
			return
		}

		if err := sse.WriteData(chunk); err != nil {
			slog.ErrorContext(ctx, "failed to write chunk", "error", err)
			return
		}
	}

	// OpenAI streaming protocol requires the [DONE] marker
	if err := sse.WriteRaw("[DONE]"); err != nil {
		slog.ErrorContext(ctx, "failed to write stream termination marker", "error", err)
	}
}

// asErrorResponse normalizes any error into the OpenAI error envelope.
// Adapter errors already carry their type and status; anything else is
// wrapped as a generic api_error.
func asErrorResponse(err error) *openaiadapter.ErrorResponse {
	var errResp *openaiadapter.ErrorResponse
	if errors.As(err, &errResp) {
		return errResp
	}
	return &openaiadapter.ErrorResponse{
		Err: openaiadapter.Error{
			Message: http.StatusText(http.StatusInternalServerError),
			Type:    openaiadapter.ErrorTypeAPI,
		},
	}
}
