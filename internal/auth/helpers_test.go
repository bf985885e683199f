package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/devflow-labs/devflow/internal/config"
	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
)

// stubProvider is an in-process identity provider.
type stubProvider struct {
	*httptest.Server

	mu         sync.Mutex
	tokenCalls int
	forms      []url.Values
	// tokenResponse is written as JSON with tokenStatus.
	tokenResponse map[string]any
	tokenStatus   int
	tokenDelay    time.Duration
	userinfo      map[string]any
}

func newStubProvider(t *testing.T) *stubProvider {
	t.Helper()
	p := &stubProvider{
		tokenStatus: http.StatusOK,
		tokenResponse: map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
			"token_type":    "Bearer",
		},
		userinfo: map[string]any{"name": "Ada Lovelace", "email": "ada@example.com"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.tokenCalls++
		p.forms = append(p.forms, r.PostForm)
		resp, status, delay := p.tokenResponse, p.tokenStatus, p.tokenDelay
		p.mu.Unlock()

		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(p.userinfo)
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenCalls
}

func (p *stubProvider) lastForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.forms) == 0 {
		return nil
	}
	return p.forms[len(p.forms)-1]
}

func (p *stubProvider) setTokenResponse(status int, body map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
	p.tokenResponse = body
}

func (p *stubProvider) setTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

type testEnv struct {
	cfg      *config.Config
	vault    *vault.Keyring
	settings *settings.Store
	provider *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	keyring.MockInit()
	t.Setenv(EnvToken, "")

	p := newStubProvider(t)
	cfg := config.Default()
	cfg.ClientID = "abc.example"
	cfg.AuthorizeURL = p.URL + "/authorize"
	cfg.TokenURL = p.URL + "/token"
	cfg.UserInfoURL = p.URL + "/userinfo"
	cfg.StateDir = t.TempDir()

	return &testEnv{
		cfg:      cfg,
		vault:    vault.NewKeyring("devflow-test"),
		settings: settings.NewStore(cfg.StateDir),
		provider: p,
	}
}

func (e *testEnv) manager(opts ...Option) *Manager {
	m := NewManager(e.cfg, e.vault, e.settings, e.provider.Client(), opts...)
	m.listener = testListenerConfig()
	return m
}

func (e *testEnv) secret(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := e.vault.Get(key)
	require.NoError(t, err)
	return v, ok
}

func (e *testEnv) expiresAt(t *testing.T) int64 {
	t.Helper()
	st, err := e.settings.Load()
	require.NoError(t, err)
	return st.SSO.ExpiresAt
}

// seed stores an SSO credential directly.
func (e *testEnv) seed(t *testing.T, access, refresh string, expiresAt time.Time) {
	t.Helper()
	if refresh != "" {
		require.NoError(t, e.vault.Store(vault.KeySSORefreshToken, refresh))
	}
	require.NoError(t, e.settings.Update(func(st *settings.Settings) error {
		st.SSO.ExpiresAt = expiresAt.UnixMilli()
		return nil
	}))
	require.NoError(t, e.vault.Store(vault.KeySSOAccessToken, access))
}

// redirectingBrowser plays the user: it follows the authorization URL
// straight back to the redirect URI with the given callback parameters.
// mutate may rewrite the parameters; the state and code default to the
// attempt's state and "code123".
type redirectingBrowser struct {
	mu      sync.Mutex
	authURL *url.URL
	mutate  func(q url.Values)
}

func (b *redirectingBrowser) open(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.authURL = u
	b.mu.Unlock()

	q := u.Query()
	cb, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		return err
	}
	params := url.Values{"code": {"code123"}, "state": {q.Get("state")}}
	if b.mutate != nil {
		b.mutate(params)
	}
	cb.RawQuery = params.Encode()

	go func() {
		resp, err := http.Get(cb.String()) //nolint:noctx
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

func (b *redirectingBrowser) visited() *url.URL {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authURL
}
