package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "creds", "tokens.json"))
	require.NoError(t, err)
	return store
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	cred := NewCredential("access", "refresh", 3600, time.Now())
	require.NoError(t, store.Save(ctx, cred))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, loaded.AccessToken)
	assert.Equal(t, cred.RefreshToken, loaded.RefreshToken)
	assert.Equal(t, cred.ExpiresAt, loaded.ExpiresAt)
	assert.False(t, loaded.Expired(time.Now()))
	assert.True(t, loaded.Expiry().After(time.Now()))
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreLoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o700))

	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: "{{{"},
		{name: "missing fields", data: `{"access_token":"a"}`},
		{name: "empty object", data: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(store.Path(), []byte(tt.data), 0o600))
			_, err := store.Load(ctx)
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestFileStorePermissions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, NewCredential("a", "r", 3600, time.Now())))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "token file must be owner-only")

	dirInfo, err := os.Stat(filepath.Dir(store.Path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm(), "token directory must be owner-only")
}

func TestFileStoreSaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Save(ctx, NewCredential("a", "r", 3600, time.Now())))
	require.NoError(t, store.Save(ctx, NewCredential("b", "r2", 3600, time.Now())))

	entries, err := os.ReadDir(filepath.Dir(store.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(store.Path()), entries[0].Name())

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", loaded.AccessToken)
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// Clearing an empty store is not an error.
	require.NoError(t, store.Clear(ctx))

	require.NoError(t, store.Save(ctx, NewCredential("a", "r", 3600, time.Now())))
	require.NoError(t, store.Clear(ctx))

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialExpiry(t *testing.T) {
	now := time.Now()

	cred := NewCredential("a", "r", 3600, now)
	assert.Equal(t, now.Add(3600*time.Second-ExpirySkew).Unix(), cred.ExpiresAt)
	assert.False(t, cred.Expired(now))
	assert.True(t, cred.Expired(now.Add(time.Hour)))

	// The skew makes a token issued with a short lifetime immediately stale.
	short := NewCredential("a", "r", 30, now)
	assert.True(t, short.Expired(now))
}
