// Package tokensource provides OAuth2 credential acquisition, refresh, and
// attachment for Anthropic Claude consumer (PKCE) credentials.
//
// Anthropic's OAuth2 implementation requires custom handling in a few ways:
//   - Token exchange and refresh use JSON-encoded requests (OAuth2 typically uses form-encoding)
//   - Token exchange requires a "state" field in the request body
//   - Authorization codes are pasted by the user and may arrive in "code#state" format
//
// # Authorization flow
//
// Use Authorizer for the initial flow to obtain a credential:
//
//	auth := tokensource.NewAuthorizer(endpoints)
//	session := auth.BeginLogin()
//	// After the user authorizes, they paste the code (possibly "code#state")
//	cred, err := auth.Exchange(ctx, session, pastedCode)
//
// # Serving bearers
//
// Manager caches the current credential, refreshes it transparently when
// expired (coalescing concurrent refreshes through a single flight), and
// persists updates through a tokenstore.Store. Transport attaches the bearer
// to outbound requests and performs the one-shot retry after an upstream 401.
package tokensource
