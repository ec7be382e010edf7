// Package tokenstore persists the OAuth credential triple (access token,
// refresh token, absolute expiry) across restarts.
//
// Two backends are provided: a file store writing owner-only JSON with
// atomic replace semantics, and an OS keyring store. Both round-trip the
// same Credential value.
package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no credential has been stored yet.
	ErrNotFound = errors.New("tokenstore: no credential stored")

	// ErrCorrupt indicates stored data exists but cannot be decoded into a
	// complete Credential.
	ErrCorrupt = errors.New("tokenstore: stored credential is corrupt")
)

// Store is the persistence contract for a single credential.
type Store interface {
	// Load returns the stored credential, ErrNotFound if none exists, or
	// ErrCorrupt if the stored data is unreadable or incomplete.
	Load(ctx context.Context) (*Credential, error)

	// Save durably replaces the stored credential. A concurrent Load never
	// observes a partially written credential.
	Save(ctx context.Context, cred *Credential) error

	// Clear removes the stored credential. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}
