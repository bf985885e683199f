package commands

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/devflow-labs/devflow/internal/auth"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
)

func TestAuthStatusNotSignedIn(t *testing.T) {
	app, buf := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "status")
	require.NoError(t, err)

	resp, data := decodeResponse(t, buf)
	assert.Equal(t, "Not signed in", resp.Summary)
	assert.Equal(t, false, data["authenticated"])
	assert.Equal(t, "available", data["vault"])
	assert.Equal(t, "abc.example", data["client_id"])
	require.Len(t, resp.Breadcrumbs, 1)
	assert.Equal(t, "devflow auth login", resp.Breadcrumbs[0].Cmd)
}

func TestAuthStatusSignedIn(t *testing.T) {
	app, buf := setupTestApp(t)

	require.NoError(t, app.Vault.Store(vault.KeySSOUserInfo, `{"displayName":"Dev","email":"dev@example.com"}`))
	require.NoError(t, app.Vault.Store(vault.KeySSORefreshToken, "RT1"))
	require.NoError(t, app.Settings.Update(func(st *settings.Settings) error {
		st.SSO.ExpiresAt = time.Now().Add(time.Hour).UnixMilli()
		return nil
	}))
	require.NoError(t, app.Vault.Store(vault.KeySSOAccessToken, "AT1"))

	_, err := executeCommand(NewAuthCmd(), app, "status")
	require.NoError(t, err)

	resp, data := decodeResponse(t, buf)
	assert.True(t, strings.HasPrefix(resp.Summary, "Signed in as dev@example.com"), resp.Summary)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, true, data["has_refresh_token"])
	assert.NotContains(t, buf.String(), "AT1", "tokens must never be printed by status")
	assert.NotContains(t, buf.String(), "RT1")
}

func TestAuthStatusVaultUnavailable(t *testing.T) {
	app, buf := setupTestApp(t)
	keyring.MockInitWithError(errors.New("keyring locked"))

	_, err := executeCommand(NewAuthCmd(), app, "status")
	require.NoError(t, err)

	resp, data := decodeResponse(t, buf)
	assert.Equal(t, "Secret store unavailable", resp.Summary)
	assert.Equal(t, "unavailable", data["vault"])
}

func TestAuthStatusCheckNotSignedIn(t *testing.T) {
	app, _ := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "status", "--check")
	requireCode(t, err, output.CodeAuth)
}

func TestAuthLogout(t *testing.T) {
	app, buf := setupTestApp(t)
	require.NoError(t, app.Vault.Store(vault.KeySSOAccessToken, "AT1"))
	require.NoError(t, app.Vault.Store(vault.KeySSORefreshToken, "RT1"))

	_, err := executeCommand(NewAuthCmd(), app, "logout")
	require.NoError(t, err)

	resp, _ := decodeResponse(t, buf)
	assert.Equal(t, "Signed out", resp.Summary)

	for _, key := range []string{vault.KeySSOAccessToken, vault.KeySSORefreshToken} {
		_, ok, err := app.Vault.Get(key)
		require.NoError(t, err)
		assert.False(t, ok, "%s should be erased", key)
	}
}

func TestAuthLoginDisabled(t *testing.T) {
	app, _ := setupTestApp(t)
	app.Config.SSOEnabled = false

	_, err := executeCommand(NewAuthCmd(), app, "login")
	requireCode(t, err, output.CodeConfiguration)
}

func TestAuthLoginWithoutClientIDNonInteractive(t *testing.T) {
	app, _ := setupTestApp(t)
	app.Config.ClientID = ""

	_, err := executeCommand(NewAuthCmd(), app, "login", "--no-browser")
	requireCode(t, err, output.CodeConfiguration)
}

func TestAuthTokenFromEnv(t *testing.T) {
	app, buf := setupTestApp(t)
	t.Setenv(auth.EnvToken, "env-token")

	_, err := executeCommand(NewAuthCmd(), app, "token")
	require.NoError(t, err)

	_, data := decodeResponse(t, buf)
	assert.Equal(t, "env-token", data["token"])
}

func TestAuthTokenRawOutput(t *testing.T) {
	app, _ := setupTestApp(t)
	app.Flags.JSON = false
	app.Flags.Quiet = true
	t.Setenv(auth.EnvToken, "env-token")

	out, err := executeCommand(NewAuthCmd(), app, "token")
	require.NoError(t, err)
	assert.Equal(t, "env-token\n", out)
}

func TestAuthTokenNotSignedIn(t *testing.T) {
	app, _ := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "token")
	requireCode(t, err, output.CodeAuth)
}

func TestAuthRefreshWithoutRefreshToken(t *testing.T) {
	app, _ := setupTestApp(t)

	_, err := executeCommand(NewAuthCmd(), app, "refresh")
	requireCode(t, err, output.CodeAuth)
}

func TestStatusSummary(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(42 * time.Minute)

	tests := []struct {
		name   string
		status auth.Status
		want   string
		crumb  string
	}{
		{"env token", auth.Status{Enabled: true, EnvToken: true}, "Using token from DEVFLOW_TOKEN", ""},
		{"disabled", auth.Status{}, "Single sign-on is disabled", "devflow config set sso_enabled true"},
		{"signed out", auth.Status{Enabled: true}, "Not signed in", "devflow auth login"},
		{"expired refreshable", auth.Status{Enabled: true, Authenticated: true, HasRefreshToken: true}, "Access token expired", "devflow auth refresh"},
		{"expired", auth.Status{Enabled: true, Authenticated: true}, "Access token expired", "devflow auth login"},
		{"valid", auth.Status{Enabled: true, Authenticated: true, Valid: true, Email: "dev@example.com", ExpiresAt: &exp}, "Signed in as dev@example.com (expires in 42m0s)", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, crumbs := statusSummary(&tt.status, now)
			assert.Equal(t, tt.want, got)
			if tt.crumb == "" {
				assert.Empty(t, crumbs)
			} else if assert.Len(t, crumbs, 1) {
				assert.Equal(t, tt.crumb, crumbs[0].Cmd)
			}
		})
	}
}
