package tokensource

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Transport attaches bearer tokens from a Manager to outbound requests and
// applies the 401 policy: after the first upstream 401 it invalidates the
// cached token and retries the request exactly once with a fresh bearer. A
// second 401 is passed through untouched.
//
// When no credential is available, Transport synthesizes a 401 response in
// Anthropic's error envelope (directing the user to the login flow) without
// contacting the upstream, so the failure surfaces through the normal error
// mapping path.
type Transport struct {
	Manager *Manager
	Base    http.RoundTripper
}

var _ http.RoundTripper = (*Transport)(nil)

// LoginHint is included in synthesized authentication errors so clients know
// where to re-authenticate.
const LoginHint = "login required: open /auth/login on the proxy to authenticate"

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// The request body must be replayable for the post-401 retry.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffering request body: %w", err)
		}
	}

	bearer, err := t.Manager.Bearer(req.Context())
	if err != nil {
		if errors.Is(err, ErrNeedsLogin) {
			return needsLoginResponse(req), nil
		}
		return nil, err
	}

	start := time.Now()
	resp, err := base.RoundTrip(t.attempt(req, body, bearer))
	if err != nil {
		return nil, err
	}
	logUpstream(req, resp, time.Since(start))

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// One-shot retry: the upstream rejected the bearer, so force a refresh
	// and try again with the new one.
	_ = resp.Body.Close()
	t.Manager.Invalidate()

	bearer, err = t.Manager.Bearer(req.Context())
	if err != nil {
		if errors.Is(err, ErrNeedsLogin) {
			return needsLoginResponse(req), nil
		}
		return nil, err
	}

	start = time.Now()
	resp, err = base.RoundTrip(t.attempt(req, body, bearer))
	if err != nil {
		return nil, err
	}
	logUpstream(req, resp, time.Since(start))
	return resp, nil
}

// attempt clones the request with a fresh body reader and the bearer
// attached.
func (t *Transport) attempt(req *http.Request, body []byte, bearer string) *http.Request {
	clone := req.Clone(req.Context())
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	clone.Header.Set("Authorization", "Bearer "+bearer)
	return clone
}

// logUpstream records the upstream status and the anthropic request id for
// correlation. Token material is never logged.
func logUpstream(req *http.Request, resp *http.Response, elapsed time.Duration) {
	slog.DebugContext(req.Context(), "upstream response",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed_ms", elapsed.Milliseconds(),
		"request_id", resp.Header.Get("request-id"),
	)
}

// needsLoginResponse fabricates an Anthropic-shaped authentication error so
// the SDK and the proxy's error mapping treat a missing credential like any
// other upstream auth failure. No upstream call is made.
func needsLoginResponse(req *http.Request) *http.Response {
	body := `{"type":"error","error":{"type":"authentication_error","message":"` + LoginHint + `"}}`
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		Status:        http.StatusText(http.StatusUnauthorized),
		StatusCode:    http.StatusUnauthorized,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
