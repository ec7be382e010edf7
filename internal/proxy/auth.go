package proxy

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/awenger/anthropic-oauth-proxy/internal/openaiadapter"
	"github.com/awenger/anthropic-oauth-proxy/internal/tokensource"
)

// AuthHandler serves the browser-mediated login flow. It holds the single
// pending PKCE session; starting a new login atomically supersedes any prior
// pending session.
type AuthHandler struct {
	Authorizer *tokensource.Authorizer
	Manager    *tokensource.Manager

	mu      sync.Mutex
	session *tokensource.Session
}

// loginPage renders the authorize URL and a paste form for the code.
// The browser is never opened by the proxy itself, which keeps headless
// environments supported.
var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><title>Anthropic OAuth Login</title></head>
<body>
  <h1>Login with Anthropic</h1>
  <ol>
    <li>Open <a href="{{.AuthorizeURL}}" target="_blank" rel="noopener">this authorization link</a>.</li>
    <li>Approve access, then copy the code shown by Anthropic.</li>
    <li>Paste the code below (it may look like <code>code#state</code>).</li>
  </ol>
  <form method="post" action="/auth/exchange">
    <input type="text" name="code" size="80" autocomplete="off" autofocus>
    <button type="submit">Exchange</button>
  </form>
</body>
</html>
`))

// Login handles GET /auth/login: generates a fresh PKCE session and exposes
// the authorize URL as HTML, or JSON when requested.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	session := h.Authorizer.BeginLogin()

	h.mu.Lock()
	h.session = session
	h.mu.Unlock()

	authorizeURL := h.Authorizer.AuthCodeURL(session)
	slog.InfoContext(r.Context(), "login flow started")

	if wantsJSON(r) {
		writeJSON(r.Context(), w, map[string]string{"authorize_url": authorizeURL}, http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPage.Execute(w, map[string]string{"AuthorizeURL": authorizeURL}); err != nil {
		slog.ErrorContext(r.Context(), "failed to render login page", "error", err)
	}
}

// Exchange handles POST /auth/exchange: consumes the pending session and
// trades the pasted code for a credential. The code value may carry a
// "#state" suffix which must match the session.
func (h *AuthHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	code, err := readCode(r)
	if err != nil {
		writeJSONOpenAIError(ctx, w, openaiadapter.InvalidRequestError(err.Error()))
		return
	}

	h.mu.Lock()
	session := h.session
	h.mu.Unlock()

	if session == nil {
		writeJSONOpenAIError(ctx, w, openaiadapter.InvalidRequestError("no pending login; start at /auth/login"))
		return
	}

	cred, err := h.Authorizer.Exchange(ctx, session, code)
	if err != nil {
		var exchangeErr *tokensource.ExchangeError
		switch {
		case errors.As(err, &exchangeErr):
			slog.WarnContext(ctx, "code exchange rejected", "status", exchangeErr.StatusCode)
			writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
				Err: openaiadapter.Error{
					Message: "authorization code rejected: " + exchangeErr.Body,
					Type:    openaiadapter.ErrorTypeAuthentication,
				},
				StatusCode: http.StatusBadGateway,
			})
		default:
			writeJSONOpenAIError(ctx, w, openaiadapter.InvalidRequestError(err.Error()))
		}
		return
	}

	// The session is consumed exactly once, on success.
	h.mu.Lock()
	if h.session == session {
		h.session = nil
	}
	h.mu.Unlock()

	if err := h.Manager.Install(ctx, cred); err != nil {
		slog.ErrorContext(ctx, "failed to install credential", "error", err)
		writeJSONOpenAIError(ctx, w, &openaiadapter.ErrorResponse{
			Err: openaiadapter.Error{
				Message: "failed to persist credential",
				Type:    openaiadapter.ErrorTypeAPI,
			},
		})
		return
	}

	slog.InfoContext(ctx, "login completed", "expires_at", cred.Expiry())
	writeJSON(ctx, w, map[string]bool{"ok": true}, http.StatusOK)
}

// Status handles GET /auth/status. Token material is never returned.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	status := h.Manager.Status(r.Context())

	body := struct {
		Present   bool    `json:"present"`
		ExpiresAt *string `json:"expires_at"`
		Expired   bool    `json:"expired"`
	}{
		Present: status.Present,
		Expired: status.Expired,
	}
	if status.Present {
		iso := status.ExpiresAt.UTC().Format(time.RFC3339)
		body.ExpiresAt = &iso
	}

	writeJSON(r.Context(), w, body, http.StatusOK)
}

// readCode extracts the authorization code from a JSON body or an HTML form
// post.
func readCode(r *http.Request) (string, error) {
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch contentType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return "", errors.New("malformed form body")
		}
		code := strings.TrimSpace(r.PostFormValue("code"))
		if code == "" {
			return "", errors.New("code is required")
		}
		return code, nil
	default:
		var body struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", errors.New("request body is not valid JSON")
		}
		code := strings.TrimSpace(body.Code)
		if code == "" {
			return "", errors.New("code is required")
		}
		return code, nil
	}
}

// wantsJSON reports whether the client prefers a JSON response.
func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
