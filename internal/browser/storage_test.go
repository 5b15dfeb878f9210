// File: internal/browser/storage_test.go
package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pvmigrate/internal/config"
)

func newTestSessionStore(t *testing.T, ttl time.Duration) *SessionStore {
	t.Helper()
	store, err := NewSessionStore(config.SessionConfig{
		Dir: filepath.Join(t.TempDir(), "sessions"),
		TTL: ttl,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

// writeSessionFile drops a plausible state file directly, standing in
// for what Capture would have produced from a live tab.
func writeSessionFile(t *testing.T, store *SessionStore, username string) string {
	t.Helper()
	state := State{
		Username: username,
		SavedAt:  time.Now(),
		Cookies:  []cookieRecord{{Name: "ESTSAUTH", Value: "opaque", Domain: ".login.example.com", Path: "/"}},
	}
	data, err := json.Marshal(state)
	require.NoError(t, err)
	path := store.Path(username)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// -- Presence and Expiry --

func TestHasAbsent(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	assert.False(t, store.Has("alice@example.com"))
}

func TestHasPresent(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	writeSessionFile(t, store, "alice@example.com")
	assert.True(t, store.Has("alice@example.com"))
}

func TestHasExpiredFileIsDiscarded(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	path := writeSessionFile(t, store, "alice@example.com")

	// Age the file past the TTL.
	stale := time.Now().Add(-9 * time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))

	assert.False(t, store.Has("alice@example.com"))
	assert.NoFileExists(t, path, "expired session files are deleted, not just ignored")
}

func TestHasZeroTTLNeverExpires(t *testing.T) {
	store := newTestSessionStore(t, 0)
	path := writeSessionFile(t, store, "alice@example.com")

	stale := time.Now().Add(-100 * time.Hour)
	require.NoError(t, os.Chtimes(path, stale, stale))
	assert.True(t, store.Has("alice@example.com"))
}

// -- Clearing --

func TestClear(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	writeSessionFile(t, store, "alice@example.com")

	require.NoError(t, store.Clear("alice@example.com"))
	assert.False(t, store.Has("alice@example.com"))

	// Clearing a missing session is not an error.
	require.NoError(t, store.Clear("alice@example.com"))
}

func TestClearAll(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	writeSessionFile(t, store, "alice@example.com")
	writeSessionFile(t, store, "bob@example.com")

	require.NoError(t, store.ClearAll())
	assert.False(t, store.Has("alice@example.com"))
	assert.False(t, store.Has("bob@example.com"))
}

// -- Corruption --

func TestLoadRemovesCorruptFile(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	path := store.Path("alice@example.com")
	require.NoError(t, os.WriteFile(path, []byte("{truncated"), 0o600))

	_, err := store.load("alice@example.com")
	require.Error(t, err)
	assert.NoFileExists(t, path, "a corrupt file must be dropped so the next run re-authenticates")
}

// -- Filename Sanitization --

func TestSanitizeUsername(t *testing.T) {
	assert.Equal(t, "alice@example.com", sanitizeUsername("alice@example.com"))
	assert.Equal(t, "alice..@example.com", sanitizeUsername("alice/../@example.com"))
	assert.Equal(t, "a_b-c.d", sanitizeUsername(`a_b-c.d`))
	assert.Equal(t, "", sanitizeUsername(`/\:*?"<>|`))
}

func TestPathUsesSanitizedName(t *testing.T) {
	store := newTestSessionStore(t, 8*time.Hour)
	path := store.Path("alice/../../etc/passwd@example.com")
	assert.Equal(t, store.dir, filepath.Dir(path), "session files never escape the store directory")
}
