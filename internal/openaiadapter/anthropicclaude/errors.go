package anthropicclaude

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// toOpenAIError converts any error into the OpenAI-compatible error
// envelope. The Anthropic SDK returns different error shapes for streaming
// vs buffered requests, so both are normalized here. Upstream status codes
// and Retry-After headers are preserved so the proxy can pass them through.
// Non-Anthropic errors (network, timeouts) are wrapped as a generic 502.
func toOpenAIError(err error) *openaiadapter.ErrorResponse {
	if err == nil {
		return nil
	}

	// Buffered: *anthropic.Error provides the structured body via RawJSON()
	// plus the HTTP status and response headers.
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		resp := &openaiadapter.ErrorResponse{StatusCode: apiErr.StatusCode}
		if apiErr.Response != nil {
			resp.RetryAfter = apiErr.Response.Header.Get("Retry-After")
		}
		if upstream, parseErr := parseErrorResponseJSON(apiErr.RawJSON()); parseErr == nil {
			resp.Err = openaiadapter.Error{
				Message: upstream.Error.Message,
				Type:    mapAnthropicErrorType(string(upstream.Error.Type)),
			}
		} else {
			resp.Err = openaiadapter.Error{
				Message: apiErr.Error(),
				Type:    openaiadapter.ErrorTypeAPI,
			}
		}
		return resp
	}

	// streamingErrorPrefix is the prefix used by the Anthropic SDK when wrapping streaming errors.
	const streamingErrorPrefix = "received error while streaming: "

	// Streaming: the SDK embeds the error JSON in the error string with a
	// known prefix.
	if jsonStr, ok := strings.CutPrefix(err.Error(), streamingErrorPrefix); ok {
		if upstream, parseErr := parseErrorResponseJSON(jsonStr); parseErr == nil {
			return &openaiadapter.ErrorResponse{
				Err: openaiadapter.Error{
					Message: upstream.Error.Message,
					Type:    mapAnthropicErrorType(string(upstream.Error.Type)),
				},
			}
		}
	}

	// Fallback: network failures, timeouts, unreachable upstream.
	return &openaiadapter.ErrorResponse{
		Err: openaiadapter.Error{
			Message: "upstream request failed: " + err.Error(),
			Type:    openaiadapter.ErrorTypeServer,
		},
		StatusCode: 502,
	}
}

// parseErrorResponseJSON parses an Anthropic error body into its structured
// form. Shared by the buffered (RawJSON) and streaming (error string) paths.
func parseErrorResponseJSON(jsonStr string) (*anthropic.ErrorResponse, error) {
	var errorResp anthropic.ErrorResponse
	if err := json.Unmarshal([]byte(jsonStr), &errorResp); err != nil {
		return nil, fmt.Errorf("parsing Anthropic error JSON: %w", err)
	}
	return &errorResp, nil
}

// mapAnthropicErrorType translates the Anthropic error taxonomy into
// OpenAI-compatible error types.
func mapAnthropicErrorType(anthropicType string) string {
	switch anthropicType {
	case "overloaded_error":
		return openaiadapter.ErrorTypeServer
	case "rate_limit_error":
		return openaiadapter.ErrorTypeRateLimit
	case "invalid_request_error":
		return openaiadapter.ErrorTypeInvalidRequest
	case "authentication_error":
		return openaiadapter.ErrorTypeAuthentication
	case "permission_error":
		return openaiadapter.ErrorTypePermissionDenied
	case "not_found_error":
		return openaiadapter.ErrorTypeInvalidRequest
	case "timeout_error":
		return openaiadapter.ErrorTypeServer
	case "api_error":
		return openaiadapter.ErrorTypeAPI
	case "billing_error":
		return openaiadapter.ErrorTypeInsufficientQuota
	default:
		// Unknown error types default to api_error for safe handling
		return openaiadapter.ErrorTypeAPI
	}
}
