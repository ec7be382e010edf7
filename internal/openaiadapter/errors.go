package openaiadapter

// Error represents an OpenAI-formatted error for chat completion endpoints.
// This is the standard error structure that OpenAI clients expect.
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// Error implements the error interface, returning the error message.
func (e *Error) Error() string {
	return e.Message
}

// ErrorResponse wraps Error in the envelope that OpenAI clients expect:
// {"error": {...}}
type ErrorResponse struct {
	// Err is the underlying error detail. JSON tag ensures it serializes as "error".
	Err Error `json:"error"`

	// StatusCode, when non-zero, pins the HTTP status of the response so an
	// upstream status passes through unchanged. Zero means the status is
	// derived from the error type.
	StatusCode int `json:"-"`

	// RetryAfter carries an upstream Retry-After header value, if any.
	RetryAfter string `json:"-"`
}

// Error implements the error interface, returning the underlying error
// message. This allows ErrorResponse to be used directly in error returns
// while maintaining the full OpenAI error structure for marshaling.
func (e *ErrorResponse) Error() string {
	return e.Err.Message
}

// Error types used in responses.
const (
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeAuthentication    = "authentication_error"
	ErrorTypePermissionDenied  = "permission_denied"
	ErrorTypeRateLimit         = "rate_limit_error"
	ErrorTypeInsufficientQuota = "insufficient_quota"
	ErrorTypeServer            = "server_error"
	ErrorTypeAPI               = "api_error"
)

// InvalidRequestError builds a 400-class error response.
func InvalidRequestError(message string) *ErrorResponse {
	return &ErrorResponse{Err: Error{Message: message, Type: ErrorTypeInvalidRequest}}
}
