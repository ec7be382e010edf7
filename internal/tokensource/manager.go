package tokensource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/awenger/anthropic-oauth-proxy/internal/tokenstore"
)

// ErrNeedsLogin indicates no usable credential exists and the user must run
// the login flow again.
var ErrNeedsLogin = errors.New("no valid credential; login required")

// refreshFailureWindow is how long a failed refresh keeps failing subsequent
// callers immediately. It prevents a burst of inbound requests from turning
// into a burst of refresh attempts against the token endpoint.
const refreshFailureWindow = 5 * time.Second

// Manager serves valid bearer tokens, refreshing transparently when the
// cached credential expires. At most one refresh is in flight at any time;
// concurrent callers that observe an expired token await the same outcome.
type Manager struct {
	authorizer *Authorizer
	store      tokenstore.Store
	now        func() time.Time

	flight singleflight.Group

	mu          sync.Mutex
	cred        *tokenstore.Credential
	loaded      bool
	lastFailure time.Time
	failureErr  error
}

// NewManager creates a credential manager backed by the given store.
func NewManager(authorizer *Authorizer, store tokenstore.Store) *Manager {
	return &Manager{
		authorizer: authorizer,
		store:      store,
		now:        time.Now,
	}
}

// Bearer returns a currently valid access token, refreshing first if the
// cached one has expired. It returns ErrNeedsLogin when no credential is
// stored or the refresh grant is rejected.
func (m *Manager) Bearer(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.loaded {
		m.loadLocked(ctx)
	}
	cred := m.cred
	failedAt, failErr := m.lastFailure, m.failureErr
	m.mu.Unlock()

	if cred == nil {
		return "", ErrNeedsLogin
	}
	if !cred.Expired(m.now()) {
		return cred.AccessToken, nil
	}

	// Fast-fail while a recent refresh failure is still fresh, so callers
	// don't pile onto a token endpoint that just said no.
	if failErr != nil && m.now().Sub(failedAt) < refreshFailureWindow {
		return "", failErr
	}

	return m.refresh(ctx)
}

// Install atomically replaces the cached credential and persists it.
func (m *Manager) Install(ctx context.Context, cred *tokenstore.Credential) error {
	if err := m.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("persisting credential: %w", err)
	}

	m.mu.Lock()
	m.cred = cred
	m.loaded = true
	m.failureErr = nil
	m.mu.Unlock()
	return nil
}

// Invalidate marks the cached access token as expired so the next Bearer
// call forces a refresh. Called after an upstream 401.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred != nil {
		m.cred = &tokenstore.Credential{
			AccessToken:  m.cred.AccessToken,
			RefreshToken: m.cred.RefreshToken,
			ExpiresAt:    m.now().Add(-time.Second).Unix(),
		}
	}
	m.failureErr = nil
}

// Clear drops the cached credential and removes it from the store.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.cred = nil
	m.loaded = true
	m.failureErr = nil
	m.mu.Unlock()
	return m.store.Clear(ctx)
}

// Status describes the stored credential without exposing token material.
type Status struct {
	Present   bool
	ExpiresAt time.Time
	Expired   bool
}

// Status reports whether a credential is present and whether it has expired.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	if !m.loaded {
		m.loadLocked(ctx)
	}
	cred := m.cred
	m.mu.Unlock()

	if cred == nil {
		return Status{}
	}
	return Status{
		Present:   true,
		ExpiresAt: cred.Expiry(),
		Expired:   cred.Expired(m.now()),
	}
}

// refresh coalesces concurrent refresh attempts into a single flight against
// the token endpoint.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	// The flight outlives any single caller; detach it from the triggering
	// request so one disconnecting client cannot fail the coalesced refresh.
	ctx = context.WithoutCancel(ctx)

	result, err, _ := m.flight.Do("refresh", func() (any, error) {
		m.mu.Lock()
		cred := m.cred
		m.mu.Unlock()

		// Another caller may have completed the refresh while this one
		// waited on the flight.
		if cred != nil && !cred.Expired(m.now()) {
			return cred.AccessToken, nil
		}
		if cred == nil {
			return nil, ErrNeedsLogin
		}

		fresh, err := m.authorizer.Refresh(ctx, cred.RefreshToken)
		if err != nil {
			var refreshErr *RefreshError
			if errors.As(err, &refreshErr) {
				slog.WarnContext(ctx, "refresh grant rejected", "status", refreshErr.StatusCode)
				m.rememberFailure(ErrNeedsLogin)
				return nil, ErrNeedsLogin
			}
			m.rememberFailure(err)
			return nil, fmt.Errorf("refreshing credential: %w", err)
		}

		if err := m.Install(ctx, fresh); err != nil {
			// The new token is valid even if persistence failed; keep serving
			// it from memory and surface the problem in the logs.
			slog.ErrorContext(ctx, "failed to persist refreshed credential", "error", err)
			m.mu.Lock()
			m.cred = fresh
			m.loaded = true
			m.mu.Unlock()
		}

		slog.InfoContext(ctx, "access token refreshed", "expires_at", fresh.Expiry())
		return fresh.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// rememberFailure starts the fast-fail window.
func (m *Manager) rememberFailure(err error) {
	m.mu.Lock()
	m.lastFailure = m.now()
	m.failureErr = err
	m.mu.Unlock()
}

// loadLocked pulls the persisted credential into the cache. Callers hold mu.
func (m *Manager) loadLocked(ctx context.Context) {
	m.loaded = true
	cred, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, tokenstore.ErrNotFound) {
			slog.WarnContext(ctx, "failed to load stored credential", "error", err)
		}
		return
	}
	m.cred = cred
}
