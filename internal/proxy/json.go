package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
)

// writeJSON writes a JSON response with the given status code.
// Logs encoding failures internally using the provided context.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	// Headers and status are written before encoding to avoid buffering.
	// If encoding fails, the client may receive a partial response.
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

// writeJSONOpenAIError writes an OpenAI-compatible error response. An
// explicit StatusCode on the error pins the HTTP status (preserving an
// upstream status); otherwise the status is derived from the error type
// according to OpenAI API conventions. A captured Retry-After header is
// forwarded.
func writeJSONOpenAIError(ctx context.Context, w http.ResponseWriter, errResp *openaiadapter.ErrorResponse) {
	status := errResp.StatusCode
	if status == 0 {
		switch errResp.Err.Type {
		case openaiadapter.ErrorTypeInvalidRequest:
			status = http.StatusBadRequest
		case openaiadapter.ErrorTypeAuthentication:
			status = http.StatusUnauthorized
		case openaiadapter.ErrorTypePermissionDenied:
			status = http.StatusForbidden
		case openaiadapter.ErrorTypeRateLimit, openaiadapter.ErrorTypeInsufficientQuota:
			status = http.StatusTooManyRequests
		default:
			status = http.StatusInternalServerError
		}
	}

	if errResp.RetryAfter != "" {
		w.Header().Set("Retry-After", errResp.RetryAfter)
	}

	writeJSON(ctx, w, errResp, status)
}
