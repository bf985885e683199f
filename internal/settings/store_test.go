package settings

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	store := NewStore(t.TempDir())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, Version, st.Version)
	assert.Zero(t, st.SSO.ExpiresAt)
	assert.Empty(t, st.Accounts)
}

func TestUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	err := store.Update(func(st *Settings) error {
		st.SSO.ExpiresAt = 1234
		st.Accounts["wiki"] = AccountMetadata{BaseURL: "https://wiki.example.com", LastConnectedAt: &now}
		return nil
	})
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	st, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Equal(t, int64(1234), st.SSO.ExpiresAt)
	require.Contains(t, st.Accounts, "wiki")
	assert.Equal(t, "https://wiki.example.com", st.Accounts["wiki"].BaseURL)
	assert.True(t, now.Equal(*st.Accounts["wiki"].LastConnectedAt))
}

func TestUpdateErrorWritesNothing(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	boom := errors.New("boom")

	err := store.Update(func(st *Settings) error {
		st.SSO.ExpiresAt = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(statErr), "failed update must not create the file")
}

func TestCorruptFileReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0600))

	st, err := NewStore(dir).Load()
	require.NoError(t, err)
	assert.Zero(t, st.SSO.ExpiresAt)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	store := NewStore(t.TempDir())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Update(func(st *Settings) error {
				st.SSO.ExpiresAt++
				return nil
			}))
		}()
	}
	wg.Wait()

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, int64(20), st.SSO.ExpiresAt)
}
