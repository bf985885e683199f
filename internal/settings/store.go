// Package settings persists non-secret credential metadata (expiry times,
// base URLs, connection timestamps) in a JSON file guarded by a file lock,
// so concurrent devflow processes never observe a half-written record.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/gofrs/flock"
)

const (
	// FileName is the settings file name within the state directory.
	FileName = "settings.json"

	// Version is the current on-disk schema version.
	Version = 1
)

// LockTimeout is the maximum time to wait for the file lock. Unlike a
// cache, credential metadata fails closed when the lock cannot be taken.
const LockTimeout = 2 * time.Second

// ErrLockTimeout is returned when another process holds the lock too long.
var ErrLockTimeout = errors.New("settings: timed out waiting for lock")

// Settings is the on-disk document.
type Settings struct {
	Version  int                        `json:"version"`
	SSO      SSO                        `json:"sso"`
	Accounts map[string]AccountMetadata `json:"accounts,omitempty"`
}

// SSO holds non-secret SSO token metadata.
type SSO struct {
	// ExpiresAt is the access token expiry in epoch milliseconds.
	ExpiresAt int64 `json:"expires_at,omitempty"`
}

// AccountMetadata holds non-secret fields of an account credential.
type AccountMetadata struct {
	BaseURL         string     `json:"base_url,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

// New returns an empty settings document.
func New() *Settings {
	return &Settings{
		Version:  Version,
		Accounts: make(map[string]AccountMetadata),
	}
}

// Store reads and writes the settings document with file locking.
type Store struct {
	dir string
}

// NewStore creates a settings store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the state directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path to the settings file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

func (s *Store) lockPath() string {
	return filepath.Join(s.dir, ".settings.lock")
}

// acquireLock obtains an exclusive lock on the state directory.
// The caller must unlock when done.
func (s *Store) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, err
	}

	fl := flock.New(s.lockPath())

	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, err
	}
	if !locked {
		return nil, ErrLockTimeout
	}
	return fl, nil
}

// Load reads the settings. A missing file yields an empty document.
func (s *Store) Load() (*Settings, error) {
	fl, err := s.acquireLock()
	if err != nil {
		return nil, err
	}
	defer func() { _ = fl.Unlock() }()

	return s.loadUnsafe()
}

// loadUnsafe reads the settings without locking (caller must hold lock).
func (s *Store) loadUnsafe() (*Settings, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, err
	}

	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		// A corrupt file reads as empty; secrets without metadata are
		// treated as expired or disconnected by the callers.
		return New(), nil
	}
	if st.Accounts == nil {
		st.Accounts = make(map[string]AccountMetadata)
	}
	return &st, nil
}

// saveUnsafe writes the settings without locking (caller must hold lock).
func (s *Store) saveUnsafe(st *Settings) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	st.Version = Version

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	// Durable before the call returns.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// On Windows, os.Rename fails if destination exists. The lock is held,
	// so no other devflow process observes the gap.
	if runtime.GOOS == "windows" {
		_ = os.Remove(s.Path())
	}

	if err := os.Rename(tmpPath, s.Path()); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Update atomically loads, modifies, and saves the settings. The lock is
// held for the whole read-modify-write cycle. If fn returns an error
// nothing is written.
func (s *Store) Update(fn func(*Settings) error) error {
	fl, err := s.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = fl.Unlock() }()

	st, err := s.loadUnsafe()
	if err != nil {
		return err
	}

	if err := fn(st); err != nil {
		return err
	}

	return s.saveUnsafe(st)
}
