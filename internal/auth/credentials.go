package auth

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
)

// Identity is the signed-in user as reported by the userinfo endpoint.
type Identity struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// SSOCredential is the single-sign-on credential as held across the vault
// (tokens and identity) and the settings file (expiry).
type SSOCredential struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is epoch milliseconds. Zero means unknown, which reads as
	// expired.
	ExpiresAt int64
	Identity  *Identity
}

// HasAccessToken reports whether an access token is stored.
func (c *SSOCredential) HasAccessToken() bool {
	return c != nil && c.AccessToken != ""
}

// Expiry returns ExpiresAt as a time. The zero time is returned when unknown.
func (c *SSOCredential) Expiry() time.Time {
	if c == nil || c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiresAt)
}

// ValidAt reports whether the access token is present and unexpired at now.
func (c *SSOCredential) ValidAt(now time.Time) bool {
	return c.HasAccessToken() && c.ExpiresAt > now.UnixMilli()
}

// credentialStore reads and writes the SSO credential. Writes always land
// the expiry before the token so an observer never sees a token without
// its expiry; clears run in the opposite order.
type credentialStore struct {
	mu       sync.Mutex
	vault    vault.Vault
	settings *settings.Store
}

func newCredentialStore(v vault.Vault, s *settings.Store) *credentialStore {
	return &credentialStore{vault: v, settings: s}
}

func (s *credentialStore) Load() (*SSOCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred := &SSOCredential{}

	at, _, err := s.vault.Get(vault.KeySSOAccessToken)
	if err != nil {
		return nil, err
	}
	cred.AccessToken = at

	rt, _, err := s.vault.Get(vault.KeySSORefreshToken)
	if err != nil {
		return nil, err
	}
	cred.RefreshToken = rt

	st, err := s.settings.Load()
	if err != nil {
		return nil, err
	}
	cred.ExpiresAt = st.SSO.ExpiresAt

	raw, ok, err := s.vault.Get(vault.KeySSOUserInfo)
	if err != nil {
		return nil, err
	}
	if ok && raw != "" {
		var id Identity
		if json.Unmarshal([]byte(raw), &id) == nil {
			cred.Identity = &id
		}
	}

	return cred, nil
}

// SaveGrant stores a freshly obtained token pair. An empty refreshToken
// removes any previously stored refresh token when replaceRefresh is set,
// and leaves it untouched otherwise.
//
// The expiry lands first, then the access token, and the refresh token is
// touched only once the access token is stored. When any write fails the
// previous access token, expiry and refresh token are put back.
func (s *credentialStore) SaveGrant(accessToken, refreshToken string, replaceRefresh bool, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.snapshotLocked()
	if err != nil {
		return err
	}

	if err := s.setExpiryLocked(expiresAt.UnixMilli()); err != nil {
		return errors.Join(err, s.restoreLocked(prev))
	}
	if err := s.vault.Store(vault.KeySSOAccessToken, accessToken); err != nil {
		return errors.Join(err, s.restoreLocked(prev))
	}

	switch {
	case refreshToken != "":
		err = s.vault.Store(vault.KeySSORefreshToken, refreshToken)
	case replaceRefresh:
		err = s.vault.Delete(vault.KeySSORefreshToken)
	}
	if err != nil {
		return errors.Join(err, s.restoreLocked(prev))
	}
	return nil
}

// grantSnapshot is the stored token pair and expiry before a write.
type grantSnapshot struct {
	access, refresh       string
	hasAccess, hasRefresh bool
	expiresAt             int64
}

func (s *credentialStore) snapshotLocked() (grantSnapshot, error) {
	var snap grantSnapshot
	var err error
	if snap.access, snap.hasAccess, err = s.vault.Get(vault.KeySSOAccessToken); err != nil {
		return snap, err
	}
	if snap.refresh, snap.hasRefresh, err = s.vault.Get(vault.KeySSORefreshToken); err != nil {
		return snap, err
	}
	st, err := s.settings.Load()
	if err != nil {
		return snap, err
	}
	snap.expiresAt = st.SSO.ExpiresAt
	return snap, nil
}

// restoreLocked puts snap back, keeping the expiry-before-token order.
func (s *credentialStore) restoreLocked(snap grantSnapshot) error {
	restore := func(key, value string, present bool) error {
		if present {
			return s.vault.Store(key, value)
		}
		return s.vault.Delete(key)
	}

	var errs []error
	if snap.hasAccess {
		errs = append(errs,
			s.setExpiryLocked(snap.expiresAt),
			restore(vault.KeySSOAccessToken, snap.access, true))
	} else {
		errs = append(errs,
			restore(vault.KeySSOAccessToken, "", false),
			s.setExpiryLocked(snap.expiresAt))
	}
	errs = append(errs, restore(vault.KeySSORefreshToken, snap.refresh, snap.hasRefresh))
	return errors.Join(errs...)
}

func (s *credentialStore) setExpiryLocked(ms int64) error {
	return s.settings.Update(func(st *settings.Settings) error {
		st.SSO.ExpiresAt = ms
		return nil
	})
}

// SaveIdentity stores id, or removes the stored identity when id is nil.
func (s *credentialStore) SaveIdentity(id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == nil {
		return s.vault.Delete(vault.KeySSOUserInfo)
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return s.vault.Store(vault.KeySSOUserInfo, string(data))
}

// ClearAccess removes the access token and its expiry. The refresh token
// and identity are kept.
func (s *credentialStore) ClearAccess() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearAccessLocked()
}

func (s *credentialStore) clearAccessLocked() error {
	if err := s.vault.Delete(vault.KeySSOAccessToken); err != nil {
		return err
	}
	return s.setExpiryLocked(0)
}

// Clear removes every SSO artifact, including a leftover attempt state.
func (s *credentialStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.clearAccessLocked(); err != nil {
		return err
	}
	for _, key := range []string{vault.KeySSORefreshToken, vault.KeySSOUserInfo, vault.KeyOAuthState} {
		if err := s.vault.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
