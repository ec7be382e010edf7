package tokensource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/awenger/anthropic-oauth-proxy/internal/tokenstore"
)

// ErrStateMismatch is returned by Exchange when a pasted "code#state" carries
// a state that does not match the pending session.
var ErrStateMismatch = errors.New("oauth state mismatch")

// Endpoints holds the OAuth endpoint configuration. No values are compiled
// in; they come from application configuration.
type Endpoints struct {
	// AuthorizeBase is the browser-facing base URL (authorize path is
	// /oauth/authorize).
	AuthorizeBase string
	// TokenBase is the token endpoint base URL (token path is
	// /v1/oauth/token).
	TokenBase string
	// ClientID is the public OAuth client identifier.
	ClientID string
	// RedirectURL is the redirect URI registered for ClientID.
	RedirectURL string
	// Scope is the space-joined scope string.
	Scope string
}

// ExchangeError reports a failed authorization-code exchange. The upstream
// status and body are preserved so the caller can surface the reason.
type ExchangeError struct {
	StatusCode int
	Body       string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("code exchange failed with status %d: %s", e.StatusCode, e.Body)
}

// RefreshError reports a failed refresh-token grant.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed with status %d", e.StatusCode)
}

// Authorizer drives the OAuth2 authorization flow for Anthropic Claude.
// It uses manual HTTP requests for token exchange because Anthropic requires
// a non-standard 'state' field in the token endpoint request body.
type Authorizer struct {
	endpoints Endpoints
	config    *oauth2.Config
	client    *http.Client
}

// NewAuthorizer creates an authorizer for the given endpoints.
func NewAuthorizer(endpoints Endpoints) *Authorizer {
	config := &oauth2.Config{
		ClientID:     endpoints.ClientID,
		ClientSecret: "",
		RedirectURL:  endpoints.RedirectURL,
		Scopes:       strings.Fields(endpoints.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  endpoints.AuthorizeBase + "/oauth/authorize",
			TokenURL: endpoints.TokenBase + "/v1/oauth/token",
		},
	}

	return &Authorizer{
		endpoints: endpoints,
		config:    config,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// BeginLogin generates fresh PKCE material for a new login attempt.
func (a *Authorizer) BeginLogin() *Session {
	return newSession()
}

// AuthCodeURL builds the authorization URL for a session, including the S256
// code challenge, the state nonce, and Anthropic's non-standard code=true
// parameter.
func (a *Authorizer) AuthCodeURL(session *Session) string {
	return a.config.AuthCodeURL(session.State,
		oauth2.S256ChallengeOption(session.Verifier),
		oauth2.SetAuthURLParam("code", "true"),
	)
}

// Exchange completes the flow by exchanging an authorization code for a
// credential. The pasted code may arrive in Anthropic's "code#state" format;
// when the suffix is present it must match the session state. Failed
// exchanges return *ExchangeError with the upstream status and body.
func (a *Authorizer) Exchange(ctx context.Context, session *Session, pastedCode string) (*tokenstore.Credential, error) {
	if session == nil {
		return nil, errors.New("no pending login session")
	}

	code, state, found := strings.Cut(strings.TrimSpace(pastedCode), "#")
	if code == "" {
		return nil, errors.New("authorization code cannot be empty")
	}
	if found && state != session.State {
		return nil, ErrStateMismatch
	}

	body := exchangeRequest{
		GrantType:    "authorization_code",
		Code:         code,
		State:        session.State,
		ClientID:     a.endpoints.ClientID,
		RedirectURI:  a.endpoints.RedirectURL,
		CodeVerifier: session.Verifier,
	}

	var token tokenResponse
	status, raw, err := a.postToken(ctx, body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &ExchangeError{StatusCode: status, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decoding exchange response: %w", err)
	}
	return token.credential(time.Now())
}

// Refresh exchanges a refresh token for a new credential. Non-2xx responses
// return *RefreshError. When the server does not rotate the refresh token,
// the previous one is carried forward.
func (a *Authorizer) Refresh(ctx context.Context, refreshToken string) (*tokenstore.Credential, error) {
	if refreshToken == "" {
		return nil, errors.New("refresh token cannot be empty")
	}

	body := refreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     a.endpoints.ClientID,
	}

	status, raw, err := a.postToken(ctx, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &RefreshError{StatusCode: status, Body: string(raw)}
	}

	var token tokenResponse
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token.credential(time.Now())
}

// postToken issues a JSON POST to the token endpoint and returns the status
// and raw body.
func (a *Authorizer) postToken(ctx context.Context, body any) (int, []byte, error) {
	requestBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshaling token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint.TokenURL, bytes.NewReader(requestBody))
	if err != nil {
		return 0, nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("reading token response: %w", err)
	}
	return resp.StatusCode, raw, nil
}

// exchangeRequest is the token exchange request body. It includes the
// non-standard State field required by Anthropic's token endpoint.
type exchangeRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	State        string `json:"state"`
	ClientID     string `json:"client_id"`
	RedirectURI  string `json:"redirect_uri"`
	CodeVerifier string `json:"code_verifier"`
}

// refreshRequest is the refresh grant request body.
type refreshRequest struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
}

// tokenResponse is the subset of the token endpoint response the proxy uses.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

func (t tokenResponse) credential(now time.Time) (*tokenstore.Credential, error) {
	if t.AccessToken == "" || t.RefreshToken == "" {
		return nil, errors.New("token response missing access_token or refresh_token")
	}
	expiresIn := t.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return tokenstore.NewCredential(t.AccessToken, t.RefreshToken, expiresIn, now), nil
}
