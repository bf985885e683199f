// Package accounts manages static per-service credentials (personal access
// tokens for the repository host, ticket tracker, and wiki) used by
// automation. Secrets live in the vault; metadata lives in settings.
package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/devflow-labs/devflow/internal/hostutil"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
)

// AccountCredential is the stored credential for one Kind.
type AccountCredential struct {
	Kind            Kind       `json:"kind"`
	Connected       bool       `json:"connected"`
	Token           string     `json:"-"`
	Username        string     `json:"username,omitempty"`
	Email           string     `json:"email,omitempty"`
	BaseURL         string     `json:"base_url,omitempty"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
}

// userInfo is the JSON shape stored under <kind>.userInfo.
type userInfo struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Registry is the sole owner of account credentials.
type Registry struct {
	vault    vault.Vault
	settings *settings.Store
	logger   *slog.Logger
	now      func() time.Time

	locks map[Kind]*sync.Mutex
}

// NewRegistry creates a registry over the given vault and settings store.
func NewRegistry(v vault.Vault, st *settings.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	locks := make(map[Kind]*sync.Mutex, len(Kinds()))
	for _, k := range Kinds() {
		locks[k] = &sync.Mutex{}
	}
	return &Registry{vault: v, settings: st, logger: logger, now: time.Now, locks: locks}
}

func (r *Registry) lock(kind Kind) (func(), error) {
	mu, ok := r.locks[kind]
	if !ok {
		return nil, output.ErrUsage(fmt.Sprintf("Unknown account kind %q", kind))
	}
	mu.Lock()
	return mu.Unlock, nil
}

// GetAccount returns the credential for kind. An unconnected kind yields a
// zero record with Connected false, not an error.
func (r *Registry) GetAccount(kind Kind) (AccountCredential, error) {
	unlock, err := r.lock(kind)
	if err != nil {
		return AccountCredential{}, err
	}
	defer unlock()
	return r.get(kind)
}

func (r *Registry) get(kind Kind) (AccountCredential, error) {
	rec := AccountCredential{Kind: kind}

	// The token is the commit point; metadata without it is leftover.
	token, ok, err := r.vault.Get(vault.TokenKey(string(kind)))
	if err != nil {
		return rec, err
	}
	if !ok || token == "" {
		return rec, nil
	}
	rec.Token = token
	rec.Connected = true

	raw, ok, err := r.vault.Get(vault.UserInfoKey(string(kind)))
	if err != nil {
		return rec, err
	}
	if ok && raw != "" {
		var info userInfo
		if json.Unmarshal([]byte(raw), &info) == nil {
			rec.Username = info.Username
			rec.Email = info.Email
		}
	}

	st, err := r.settings.Load()
	if err != nil {
		return rec, err
	}
	if meta, ok := st.Accounts[string(kind)]; ok {
		rec.BaseURL = meta.BaseURL
		rec.LastConnectedAt = meta.LastConnectedAt
	}
	return rec, nil
}

// StoreAccount connects rec.Kind. Metadata and identity are written first
// and the token last, so a reader sees either the previous record or the
// complete new one. If a write fails the previous metadata and identity are
// put back. LastConnectedAt is stamped with the current time.
func (r *Registry) StoreAccount(rec AccountCredential) error {
	if rec.Token == "" {
		return output.ErrValidation(fmt.Sprintf("Cannot connect %s: token is empty", rec.Kind))
	}

	unlock, err := r.lock(rec.Kind)
	if err != nil {
		return err
	}
	defer unlock()

	baseURL := hostutil.Normalize(rec.BaseURL)
	if err := hostutil.RequireSecureURL(baseURL); err != nil {
		return output.ErrValidation(err.Error())
	}

	now := r.now().UTC()
	kind := string(rec.Kind)

	prev, err := r.snapshot(kind)
	if err != nil {
		return err
	}

	if err := r.write(kind, rec, settings.AccountMetadata{BaseURL: baseURL, LastConnectedAt: &now}); err != nil {
		if rbErr := r.restore(kind, prev); rbErr != nil {
			r.logger.Warn("failed to restore account record", "kind", kind, "error", rbErr)
			return errors.Join(err, rbErr)
		}
		return err
	}

	r.logger.Info("account connected", "kind", kind, "base_url", baseURL)
	return nil
}

// accountSnapshot is the identity and metadata of a kind before a write.
type accountSnapshot struct {
	info    string
	hasInfo bool
	meta    settings.AccountMetadata
	hasMeta bool
}

func (r *Registry) snapshot(kind string) (accountSnapshot, error) {
	var snap accountSnapshot
	var err error
	if snap.info, snap.hasInfo, err = r.vault.Get(vault.UserInfoKey(kind)); err != nil {
		return snap, err
	}
	st, err := r.settings.Load()
	if err != nil {
		return snap, err
	}
	snap.meta, snap.hasMeta = st.Accounts[kind]
	return snap, nil
}

func (r *Registry) write(kind string, rec AccountCredential, meta settings.AccountMetadata) error {
	if err := r.settings.Update(func(st *settings.Settings) error {
		st.Accounts[kind] = meta
		return nil
	}); err != nil {
		return err
	}

	if rec.Username != "" || rec.Email != "" {
		data, err := json.Marshal(userInfo{Username: rec.Username, Email: rec.Email})
		if err != nil {
			return err
		}
		if err := r.vault.Store(vault.UserInfoKey(kind), string(data)); err != nil {
			return err
		}
	} else if err := r.vault.Delete(vault.UserInfoKey(kind)); err != nil {
		return err
	}

	return r.vault.Store(vault.TokenKey(kind), rec.Token)
}

func (r *Registry) restore(kind string, snap accountSnapshot) error {
	var infoErr error
	if snap.hasInfo {
		infoErr = r.vault.Store(vault.UserInfoKey(kind), snap.info)
	} else {
		infoErr = r.vault.Delete(vault.UserInfoKey(kind))
	}
	metaErr := r.settings.Update(func(st *settings.Settings) error {
		if snap.hasMeta {
			st.Accounts[kind] = snap.meta
		} else {
			delete(st.Accounts, kind)
		}
		return nil
	})
	return errors.Join(infoErr, metaErr)
}

// ClearAccount disconnects kind. The token goes first, then identity and
// metadata. Clearing an unconnected kind is a no-op.
func (r *Registry) ClearAccount(kind Kind) error {
	unlock, err := r.lock(kind)
	if err != nil {
		return err
	}
	defer unlock()

	k := string(kind)
	if err := r.vault.Delete(vault.TokenKey(k)); err != nil {
		return err
	}
	if err := r.vault.Delete(vault.UserInfoKey(k)); err != nil {
		return err
	}
	if err := r.settings.Update(func(st *settings.Settings) error {
		delete(st.Accounts, k)
		return nil
	}); err != nil {
		return err
	}

	r.logger.Info("account disconnected", "kind", k)
	return nil
}

// ListAccounts returns one record per kind, connected or not.
func (r *Registry) ListAccounts() ([]AccountCredential, error) {
	out := make([]AccountCredential, 0, len(Kinds()))
	for _, k := range Kinds() {
		rec, err := r.GetAccount(k)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
