package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/vault"
)

func TestBeginSSOSuccess(t *testing.T) {
	env := newTestEnv(t)
	browser := &redirectingBrowser{}
	m := env.manager(WithBrowser(browser.open))

	var messages []string
	start := time.Now()
	res, err := m.BeginSSO(context.Background(), LoginOptions{
		Notify: func(msg string) { messages = append(messages, msg) },
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	// Authorization URL carries the required parameters.
	authURL := browser.visited()
	require.NotNil(t, authURL)
	q := authURL.Query()
	assert.Equal(t, "/authorize", authURL.Path)
	assert.Equal(t, "abc.example", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Len(t, q.Get("state"), 43, "32 random bytes, base64url without padding")
	assert.True(t, strings.HasSuffix(q.Get("redirect_uri"), "/oauth/callback"))

	// Token request used the code and the same redirect URI.
	form := env.provider.lastForm()
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "code123", form.Get("code"))
	assert.Equal(t, "abc.example", form.Get("client_id"))
	assert.Equal(t, q.Get("redirect_uri"), form.Get("redirect_uri"))

	at, ok := env.secret(t, vault.KeySSOAccessToken)
	assert.True(t, ok)
	assert.Equal(t, "AT1", at)
	rt, _ := env.secret(t, vault.KeySSORefreshToken)
	assert.Equal(t, "RT1", rt)

	wantExpiry := start.Add(time.Hour).UnixMilli()
	assert.InDelta(t, wantExpiry, env.expiresAt(t), float64(5*time.Second/time.Millisecond))

	info, ok := env.secret(t, vault.KeySSOUserInfo)
	assert.True(t, ok)
	assert.JSONEq(t, `{"displayName":"Ada Lovelace","email":"ada@example.com"}`, info)

	_, ok = env.secret(t, vault.KeyOAuthState)
	assert.False(t, ok, "attempt state must be removed when the attempt ends")

	require.NotEmpty(t, messages)
	assert.Equal(t, "Signed in as ada@example.com", messages[len(messages)-1])
	assert.Equal(t, "Signed in as ada@example.com", res.Message)
}

func TestBeginSSODenied(t *testing.T) {
	env := newTestEnv(t)
	browser := &redirectingBrowser{mutate: func(q url.Values) {
		q.Del("code")
		q.Set("error", "access_denied")
	}}
	m := env.manager(WithBrowser(browser.open))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	require.Error(t, err)
	assert.Equal(t, output.CodeDenied, output.AsError(err).Code)
	assert.Equal(t, ReasonDenied, res.Reason)
	assert.Contains(t, err.Error(), "access_denied")

	_, stored := env.secret(t, vault.KeySSOAccessToken)
	assert.False(t, stored)
	_, stored = env.secret(t, vault.KeyOAuthState)
	assert.False(t, stored)
	assert.Zero(t, env.provider.calls(), "no token request after a denial")
}

func TestBeginSSOStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	browser := &redirectingBrowser{mutate: func(q url.Values) { q.Set("state", "forged") }}
	m := env.manager(WithBrowser(browser.open))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeCSRFMismatch, output.AsError(err).Code)
	assert.Equal(t, ReasonStateMismatch, res.Reason)
	assert.Zero(t, env.provider.calls())

	_, stored := env.secret(t, vault.KeySSOAccessToken)
	assert.False(t, stored)
}

func TestBeginSSOTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.CallbackTimeout = 100 * time.Millisecond

	// The browser never follows the link; it only records where the
	// listener was bound.
	var addr string
	m := env.manager(WithBrowser(func(raw string) error {
		u, _ := url.Parse(raw)
		cb, _ := url.Parse(u.Query().Get("redirect_uri"))
		addr = cb.Host
		return nil
	}))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeTimeout, output.AsError(err).Code)
	assert.Equal(t, ReasonTimedOut, res.Reason)

	require.NotEmpty(t, addr)
	ln, err := net.Listen("tcp", addr)
	require.NoError(t, err, "listener must be released after a timeout")
	ln.Close()
}

func TestBeginSSOExchangeFailureKeepsPreviousCredential(t *testing.T) {
	env := newTestEnv(t)
	future := time.Now().Add(30 * time.Minute)
	env.seed(t, "AT0", "RT0", future)

	env.provider.setTokenResponse(http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	browser := &redirectingBrowser{}
	m := env.manager(WithBrowser(browser.open))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeExchange, output.AsError(err).Code)
	assert.Equal(t, ReasonExchangeFailed, res.Reason)

	at, _ := env.secret(t, vault.KeySSOAccessToken)
	rt, _ := env.secret(t, vault.KeySSORefreshToken)
	assert.Equal(t, "AT0", at)
	assert.Equal(t, "RT0", rt)
	assert.Equal(t, future.UnixMilli(), env.expiresAt(t))
}

func TestBeginSSOStorageFailureKeepsPreviousCredential(t *testing.T) {
	env := newTestEnv(t)
	prior := time.Now().Add(2 * time.Minute)
	env.seed(t, "AT0", "RT0", prior)

	browser := &redirectingBrowser{}
	broken := &brokenVault{Vault: env.vault, failStore: map[string]bool{vault.KeySSOAccessToken: true}}
	m := NewManager(env.cfg, broken, env.settings, env.provider.Client(), WithBrowser(browser.open))
	m.listener = testListenerConfig()

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeInfrastructure, output.AsError(err).Code)

	at, _ := env.secret(t, vault.KeySSOAccessToken)
	rt, _ := env.secret(t, vault.KeySSORefreshToken)
	assert.Equal(t, "AT0", at)
	assert.Equal(t, "RT0", rt)
	assert.Equal(t, prior.UnixMilli(), env.expiresAt(t), "the old token must not inherit the new expiry")
}

func TestBeginSSOMissingExpiresInUsesDefaultLifetime(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setTokenResponse(http.StatusOK, map[string]any{"access_token": "AT1"})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	browser := &redirectingBrowser{}
	m := env.manager(WithBrowser(browser.open), WithClock(func() time.Time { return fixed }))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, fixed.Add(time.Hour).UnixMilli(), env.expiresAt(t))

	_, hasRefresh := env.secret(t, vault.KeySSORefreshToken)
	assert.False(t, hasRefresh)
}

func TestBeginSSOWaitUsesElapsedTime(t *testing.T) {
	env := newTestEnv(t)
	env.provider.setTokenResponse(http.StatusOK, map[string]any{"access_token": "AT1"})
	past := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	// A clock whose deadline is long gone must not cut the wait short.
	browser := &redirectingBrowser{}
	m := env.manager(WithBrowser(browser.open), WithClock(func() time.Time { return past }))
	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, past.Add(time.Hour).UnixMilli(), env.expiresAt(t))

	// Nor may a clock far in the future stretch it.
	env.cfg.CallbackTimeout = 50 * time.Millisecond
	future := time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)
	m = env.manager(WithBrowser(func(string) error { return nil }), WithClock(func() time.Time { return future }))

	start := time.Now()
	res, err = m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeTimeout, output.AsError(err).Code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBeginSSOBackToBackOnFixedPort(t *testing.T) {
	env := newTestEnv(t)

	free, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := free.Addr().String()
	require.NoError(t, free.Close())

	var states, callbacks []string
	record := func(b *redirectingBrowser) BrowserOpener {
		return func(raw string) error {
			u, err := url.Parse(raw)
			require.NoError(t, err)
			states = append(states, u.Query().Get("state"))
			callbacks = append(callbacks, u.Query().Get("redirect_uri"))
			return b.open(raw)
		}
	}
	run := func(b *redirectingBrowser) (Result, error) {
		m := env.manager(WithBrowser(record(b)))
		m.listener = ListenerConfig{Addr: addr, Host: "127.0.0.1", Path: "/oauth/callback"}
		return m.BeginSSO(context.Background(), LoginOptions{})
	}

	res, err := run(&redirectingBrowser{})
	require.NoError(t, err)
	assert.True(t, res.OK)

	res, err = run(&redirectingBrowser{mutate: func(q url.Values) { q.Set("state", "forged") }})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeCSRFMismatch, output.AsError(err).Code)

	env.provider.setTokenResponse(http.StatusOK, map[string]any{"access_token": "AT2", "expires_in": 60})
	res, err = run(&redirectingBrowser{})
	require.NoError(t, err, "the port must be free again after earlier attempts")
	assert.True(t, res.OK)

	at, _ := env.secret(t, vault.KeySSOAccessToken)
	assert.Equal(t, "AT2", at)

	require.Len(t, states, 3)
	assert.NotEqual(t, states[0], states[1])
	assert.NotEqual(t, states[1], states[2])
	assert.NotEqual(t, states[0], states[2])
	for _, cb := range callbacks {
		assert.Equal(t, "http://"+addr+"/oauth/callback", cb)
	}
}

func TestBeginSSOIdentityFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.UserInfoURL = env.provider.URL + "/missing"

	browser := &redirectingBrowser{}
	m := env.manager(WithBrowser(browser.open))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.True(t, res.OK)

	_, hasInfo := env.secret(t, vault.KeySSOUserInfo)
	assert.False(t, hasInfo)
}

func TestBeginSSOPromptsForClientID(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ClientID = ""

	saved := map[string]string{}
	browser := &redirectingBrowser{}
	m := env.manager(
		WithBrowser(browser.open),
		WithConfigSaver(func(k, v string) error { saved[k] = v; return nil }),
	)

	res, err := m.BeginSSO(context.Background(), LoginOptions{
		PromptClientID: func() (string, error) { return "  prompted.example ", nil },
	})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "prompted.example", saved["client_id"])
	assert.Equal(t, "prompted.example", browser.visited().Query().Get("client_id"))
	assert.Equal(t, "prompted.example", env.cfg.ClientID)
}

func TestBeginSSOWithoutClientID(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.ClientID = ""
	m := env.manager(WithBrowser(func(string) error { t.Fatal("browser must not open"); return nil }))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeConfiguration, output.AsError(err).Code)

	res, err = m.BeginSSO(context.Background(), LoginOptions{
		PromptClientID: func() (string, error) { return "   ", nil },
	})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeConfiguration, output.AsError(err).Code)
}

func TestBeginSSODisabled(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.SSOEnabled = false
	m := env.manager()

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeConfiguration, output.AsError(err).Code)
}

func TestBeginSSORejectsConcurrentAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.CallbackTimeout = 2 * time.Second

	opened := make(chan struct{})
	var once sync.Once
	m := env.manager(WithBrowser(func(string) error {
		once.Do(func() { close(opened) })
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.BeginSSO(ctx, LoginOptions{})
		done <- err
	}()

	<-opened
	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeBusy, output.AsError(err).Code)

	cancel()
	err = <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBeginSSOBrowserFailurePrintsURL(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.CallbackTimeout = 50 * time.Millisecond
	m := env.manager(WithBrowser(func(string) error { return errors.New("no display") }))

	var messages []string
	_, err := m.BeginSSO(context.Background(), LoginOptions{
		Notify: func(msg string) { messages = append(messages, msg) },
	})
	assert.Equal(t, output.CodeTimeout, output.AsError(err).Code)
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "Couldn't open browser")
	assert.Contains(t, messages[0], env.provider.URL+"/authorize")
}

func TestBeginSSOVaultUnavailable(t *testing.T) {
	env := newTestEnv(t)
	keyring.MockInitWithError(errors.New("no keychain"))
	m := env.manager(WithBrowser(func(string) error { t.Fatal("browser must not open"); return nil }))

	res, err := m.BeginSSO(context.Background(), LoginOptions{})
	assert.False(t, res.OK)
	assert.Equal(t, output.CodeInfrastructure, output.AsError(err).Code)
}

func TestLogoutClearsEverything(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "AT1", "RT1", time.Now().Add(time.Hour))
	require.NoError(t, env.vault.Store(vault.KeySSOUserInfo, `{"email":"a@b"}`))
	require.NoError(t, env.vault.Store(vault.KeyOAuthState, "leftover"))

	m := env.manager()
	require.NoError(t, m.Logout())
	require.NoError(t, m.Logout(), "logout is idempotent")

	for _, key := range []string{vault.KeySSOAccessToken, vault.KeySSORefreshToken, vault.KeySSOUserInfo, vault.KeyOAuthState} {
		_, ok := env.secret(t, key)
		assert.False(t, ok, key)
	}
	assert.Zero(t, env.expiresAt(t))
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := env.manager(WithClock(func() time.Time { return fixed }))

	s, err := m.Status()
	require.NoError(t, err)
	assert.False(t, s.Authenticated)
	assert.Nil(t, s.ExpiresAt)

	env.seed(t, "AT1", "RT1", fixed.Add(time.Hour))
	require.NoError(t, env.vault.Store(vault.KeySSOUserInfo, `{"displayName":"Ada","email":"ada@example.com"}`))

	s, err = m.Status()
	require.NoError(t, err)
	assert.True(t, s.Authenticated)
	assert.True(t, s.Valid)
	assert.True(t, s.HasRefreshToken)
	assert.Equal(t, "ada@example.com", s.Email)
	require.NotNil(t, s.ExpiresAt)
	assert.True(t, s.ExpiresAt.Equal(fixed.Add(time.Hour)))
}
