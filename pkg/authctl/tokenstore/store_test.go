package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tokens.json")
	store := NewFileStore(path)

	_, err := store.Load("dev")
	require.ErrorIs(t, err, ErrNotFound)

	token := Token{RefreshToken: "r-1", Server: "https://broker", SavedAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, store.Save("dev", token))
	require.NoError(t, store.Save("", Token{RefreshToken: "r-default"}))

	loaded, err := store.Load("dev")
	require.NoError(t, err)
	assert.Equal(t, token.RefreshToken, loaded.RefreshToken)
	assert.True(t, token.SavedAt.Equal(loaded.SavedAt))

	loaded, err = store.Load("default")
	require.NoError(t, err)
	assert.Equal(t, "r-default", loaded.RefreshToken)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, store.Delete("dev"))
	_, err = store.Load("dev")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, store.Delete("dev"), ErrNotFound)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")
	require.NoError(t, os.WriteFile(path, []byte("{bad json"), 0o600))

	_, err := NewFileStore(path).Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse token file")
}

func TestKeyringStoreRoundTrip(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("")

	assert.True(t, store.Available())
	assert.Equal(t, BackendKeychain, store.Backend())

	_, err := store.Load("dev")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save("dev", Token{RefreshToken: "r-1"}))
	loaded, err := store.Load("dev")
	require.NoError(t, err)
	assert.Equal(t, "r-1", loaded.RefreshToken)

	require.NoError(t, store.Delete("dev"))
	require.ErrorIs(t, store.Delete("dev"), ErrNotFound)
}

func TestKeyringStoreUnavailable(t *testing.T) {
	keyring.MockInitWithError(assert.AnError)
	store := NewKeyringStore("authctl")

	assert.False(t, store.Available())
	_, err := store.Load("dev")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.json")

	keyring.MockInit()
	s, err := New("", path)
	require.NoError(t, err)
	assert.Equal(t, BackendKeychain, s.Backend())

	s, err = New("FILE", path)
	require.NoError(t, err)
	assert.Equal(t, BackendFile, s.Backend())

	keyring.MockInitWithError(assert.AnError)
	s, err = New("", path)
	require.NoError(t, err)
	assert.Equal(t, BackendFile, s.Backend())

	s, err = New("keychain", path)
	require.NoError(t, err)
	assert.Equal(t, BackendKeychain, s.Backend())

	_, err = New("vault", path)
	require.Error(t, err)
}

func TestDefaultTokenPath(t *testing.T) {
	assert.Equal(t, "tokens.json", filepath.Base(DefaultTokenPath()))
}
