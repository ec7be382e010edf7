package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "anthropic-oauth-proxy"
	keyringUser    = "oauth-credential"
)

// KeyringStore persists the credential in the OS keyring. The credential is
// stored as a single JSON secret so the triple stays atomic.
type KeyringStore struct {
	service string
}

var _ Store = (*KeyringStore)(nil)

// NewKeyringStore creates a keyring-backed store.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

// Load implements Store.
func (s *KeyringStore) Load(_ context.Context) (*Credential, error) {
	secret, err := keyring.Get(s.service, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading keyring: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal([]byte(secret), &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !cred.complete() {
		return nil, fmt.Errorf("%w: missing fields", ErrCorrupt)
	}
	return &cred, nil
}

// Save implements Store.
func (s *KeyringStore) Save(_ context.Context, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := keyring.Set(s.service, keyringUser, string(data)); err != nil {
		return fmt.Errorf("writing keyring: %w", err)
	}
	return nil
}

// Clear implements Store.
func (s *KeyringStore) Clear(_ context.Context) error {
	if err := keyring.Delete(s.service, keyringUser); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("clearing keyring: %w", err)
	}
	return nil
}
