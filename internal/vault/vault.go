// Package vault stores secret strings in the operating system keyring.
//
// The vault fails closed: when the keyring backend is unavailable every
// operation returns an infrastructure error and nothing is written to disk
// in plaintext.
package vault

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"

	"github.com/devflow-labs/devflow/internal/output"
)

// Well-known keys shared with other tooling.
const (
	KeySSOAccessToken  = "sso.accessToken"
	KeySSORefreshToken = "sso.refreshToken"
	KeySSOUserInfo     = "sso.userInfo"
	KeyOAuthState      = "oauth.state"
)

// TokenKey returns the vault key holding the token for an account kind.
func TokenKey(kind string) string {
	return kind + ".token"
}

// UserInfoKey returns the vault key holding identity for an account kind.
func UserInfoKey(kind string) string {
	return kind + ".userInfo"
}

// Vault is an opaque key/value store for sensitive strings.
type Vault interface {
	// Get returns the value for key. The bool is false when the key is absent.
	Get(key string) (string, bool, error)
	// Store writes value under key, replacing any previous value.
	Store(key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// Keyring is a Vault backed by the system keychain.
type Keyring struct {
	service string
}

// NewKeyring creates a keyring vault scoped to service.
func NewKeyring(service string) *Keyring {
	return &Keyring{service: service}
}

// Service returns the keyring service name.
func (k *Keyring) Service() string {
	return k.service
}

// Get retrieves key from the keyring.
func (k *Keyring) Get(key string) (string, bool, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("read", key, err)
	}
	return v, true, nil
}

// Store writes key to the keyring.
func (k *Keyring) Store(key, value string) error {
	if err := keyring.Set(k.service, key, value); err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

// Delete removes key from the keyring.
func (k *Keyring) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if err == nil || errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return unavailable("delete", key, err)
}

// Probe checks that the keyring accepts writes by round-tripping a sentinel key.
func (k *Keyring) Probe() error {
	const probeKey = "devflow::probe"
	if err := k.Store(probeKey, "ok"); err != nil {
		return err
	}
	return k.Delete(probeKey)
}

func unavailable(op, key string, err error) *output.Error {
	return output.ErrInfrastructure(fmt.Sprintf("secret store unavailable: %s %s", op, key), err)
}
