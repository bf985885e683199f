package auth

import (
	"context"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/devflow-labs/devflow/internal/output"
)

// EnvToken names the environment variable that supplies an access token
// directly, bypassing the stored credential.
const EnvToken = "DEVFLOW_TOKEN"

func envToken() string {
	return os.Getenv(EnvToken)
}

// EnsureValid reports whether a usable access token is stored, refreshing
// it first when it has expired. Concurrent callers share one refresh.
//
// On a false result the access token has been cleared and the caller must
// run BeginSSO again; the error says why.
func (m *Manager) EnsureValid(ctx context.Context) (bool, error) {
	v, err, shared := m.refresh.Do("sso", func() (any, error) {
		return m.ensureValid(ctx)
	})
	if shared {
		m.logger.Debug("joined in-flight token refresh")
	}
	ok, _ := v.(bool)
	return ok, err
}

func (m *Manager) ensureValid(ctx context.Context) (bool, error) {
	cred, err := m.creds.Load()
	if err != nil {
		return false, err
	}
	if !cred.HasAccessToken() {
		return false, output.ErrAuth("Not authenticated")
	}
	if cred.ValidAt(m.now()) {
		return true, nil
	}

	if cred.RefreshToken == "" {
		if err := m.creds.ClearAccess(); err != nil {
			return false, err
		}
		return false, output.ErrAuth("Access token expired and no refresh token is stored")
	}

	return m.refreshLocked(ctx, cred)
}

// Refresh forces a refresh regardless of the stored expiry.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.refresh.Do("sso", func() (any, error) {
		cred, err := m.creds.Load()
		if err != nil {
			return false, err
		}
		if cred.RefreshToken == "" {
			return false, output.ErrAuth("No refresh token available")
		}
		return m.refreshLocked(ctx, cred)
	})
	return err
}

func (m *Manager) refreshLocked(ctx context.Context, cred *SSOCredential) (bool, error) {
	clientID := m.cfg.ClientID
	if clientID == "" {
		return false, output.ErrConfiguration("No OAuth client ID configured")
	}

	// An empty access token forces the source to hit the token endpoint.
	oc := m.oauthConfig(clientID, "")
	src := oc.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		m.logger.Info("token refresh failed", "error", err)
		if clearErr := m.creds.ClearAccess(); clearErr != nil {
			return false, clearErr
		}
		return false, output.ErrExchange("Token refresh failed", err)
	}

	// The library carries the old refresh token forward when the provider
	// does not rotate it, so only a changed value is written.
	newRefresh := ""
	if tok.RefreshToken != cred.RefreshToken {
		newRefresh = tok.RefreshToken
	}
	expiresAt := m.expiryFor(tok)
	if err := m.creds.SaveGrant(tok.AccessToken, newRefresh, false, expiresAt); err != nil {
		return false, err
	}

	m.logger.Info("access token refreshed", "expires_at", expiresAt.UTC().Format(time.RFC3339))
	return true, nil
}

// AccessToken returns a usable access token, refreshing if needed.
// If DEVFLOW_TOKEN is set it is returned without consulting the vault.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	if token := envToken(); token != "" {
		return token, nil
	}

	ok, err := m.EnsureValid(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", output.ErrAuth("Not authenticated")
	}

	cred, err := m.creds.Load()
	if err != nil {
		return "", err
	}
	if !cred.HasAccessToken() {
		return "", output.ErrAuth("Not authenticated")
	}
	return cred.AccessToken, nil
}
