// Package auth implements single sign-on against an OAuth 2.0 identity
// provider using the authorization code grant with a loopback redirect,
// plus silent refresh of the stored access token.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/devflow-labs/devflow/internal/config"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
	"github.com/devflow-labs/devflow/internal/version"
)

// ConfigSaver persists a configuration key chosen during login.
type ConfigSaver func(key, value string) error

// Manager drives the authorization flow and owns the SSO credential.
type Manager struct {
	cfg        *config.Config
	vault      vault.Vault
	creds      *credentialStore
	httpClient *http.Client
	logger     *slog.Logger

	browser    BrowserOpener
	saveConfig ConfigSaver
	listener   ListenerConfig
	now        func() time.Time

	// inflight admits one authorization attempt per process.
	inflight sync.Mutex
	refresh  singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithBrowser replaces the browser launcher.
func WithBrowser(b BrowserOpener) Option {
	return func(m *Manager) { m.browser = b }
}

// WithConfigSaver sets how a prompted client identifier is persisted.
func WithConfigSaver(s ConfigSaver) Option {
	return func(m *Manager) { m.saveConfig = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates an auth manager.
func NewManager(cfg *config.Config, v vault.Vault, st *settings.Store, httpClient *http.Client, opts ...Option) *Manager {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	m := &Manager{
		cfg:        cfg,
		vault:      v,
		creds:      newCredentialStore(v, st),
		httpClient: httpClient,
		logger:     discardLogger(),
		browser:    OpenBrowser,
		listener:   DefaultListenerConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoginOptions configures one authorization attempt.
type LoginOptions struct {
	// NoBrowser prints the authorization URL instead of launching a browser.
	NoBrowser bool
	// PromptClientID asks the user for a client identifier when none is
	// configured. A nil prompt makes a missing identifier a configuration
	// error.
	PromptClientID func() (string, error)
	// Notify receives human-readable progress messages.
	Notify func(msg string)
}

// AttemptStatus is the lifecycle state of an authorization attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptSucceeded AttemptStatus = "succeeded"
	AttemptFailed    AttemptStatus = "failed"
	AttemptTimedOut  AttemptStatus = "timed_out"
)

// Attempt is one run of the authorization flow. It is never persisted
// beyond its state value, which lives in the vault until the attempt ends.
type Attempt struct {
	ID        string
	State     string
	StartedAt time.Time
	// Deadline is reported from the manager's clock. The wait itself is
	// timed from the moment the listener starts waiting.
	Deadline  time.Time
	Status    AttemptStatus
	Reason    Reason
}

// Result is the outcome of BeginSSO. Reason is empty on success and on
// failures that never reached the callback stage.
type Result struct {
	OK      bool
	Reason  Reason
	Message string
}

// BeginSSO runs a complete authorization attempt: it binds the callback
// listener, dispatches the user to the provider, waits for the redirect,
// exchanges the code, and stores the resulting credential. Result.OK is
// true only when a credential was stored; otherwise the error explains the
// failure and Result carries its reason.
func (m *Manager) BeginSSO(ctx context.Context, opts LoginOptions) (Result, error) {
	if !m.inflight.TryLock() {
		return failed(ReasonNone, output.ErrBusy())
	}
	defer m.inflight.Unlock()

	notify := opts.Notify
	if notify == nil {
		notify = func(string) {}
	}

	if !m.cfg.SSOEnabled {
		return failed(ReasonNone, output.ErrConfiguration("Single sign-on is disabled (set sso_enabled to true)"))
	}

	clientID, err := m.resolveClientID(opts)
	if err != nil {
		return failed(ReasonNone, err)
	}

	now := m.now()
	attempt := &Attempt{
		ID:        uuid.NewString(),
		State:     generateState(),
		StartedAt: now,
		Deadline:  now.Add(m.cfg.CallbackTimeout),
		Status:    AttemptPending,
	}
	log := m.logger.With("attempt", attempt.ID)
	log.Info("authorization attempt started", "deadline", attempt.Deadline.Format(time.RFC3339))

	if err := m.vault.Store(vault.KeyOAuthState, attempt.State); err != nil {
		return m.finish(log, attempt, ReasonNone, err)
	}
	defer func() {
		if err := m.vault.Delete(vault.KeyOAuthState); err != nil {
			log.Warn("failed to remove attempt state", "error", err)
		}
	}()

	l, err := StartListener(ctx, m.listener, attempt.State, log)
	if err != nil {
		return m.finish(log, attempt, ReasonNone, err)
	}
	defer func() { _ = l.Close() }()

	oc := m.oauthConfig(clientID, l.RedirectURI())
	m.dispatch(oc.AuthCodeURL(attempt.State), opts.NoBrowser, notify)

	res := l.Wait(ctx, m.cfg.CallbackTimeout)
	if !res.OK() {
		err := callbackError(res, m.cfg.CallbackTimeout)
		if res.Reason == ReasonCanceled && ctx.Err() != nil {
			err = fmt.Errorf("login canceled: %w", ctx.Err())
		}
		return m.finish(log, attempt, res.Reason, err)
	}

	tok, err := oc.Exchange(m.oauthContext(ctx), res.Code)
	if err != nil {
		return m.finish(log, attempt, ReasonExchangeFailed, output.ErrExchange("Token exchange failed", err))
	}

	if err := m.creds.SaveGrant(tok.AccessToken, tok.RefreshToken, true, m.expiryFor(tok)); err != nil {
		return m.finish(log, attempt, ReasonNone, err)
	}

	id, err := m.fetchIdentity(ctx, tok.AccessToken)
	if err != nil {
		log.Warn("identity lookup failed", "error", err)
	}
	if err := m.creds.SaveIdentity(id); err != nil {
		log.Warn("failed to store identity", "error", err)
	}

	result, _ := m.finish(log, attempt, ReasonNone, nil)
	if id != nil && id.Email != "" {
		result.Message = "Signed in as " + id.Email
	}
	notify(result.Message)
	return result, nil
}

func failed(reason Reason, err error) (Result, error) {
	return Result{Reason: reason, Message: err.Error()}, err
}

func (m *Manager) finish(log *slog.Logger, a *Attempt, reason Reason, err error) (Result, error) {
	a.Reason = reason
	switch {
	case err == nil:
		a.Status = AttemptSucceeded
		log.Info("authorization attempt succeeded", "elapsed", m.now().Sub(a.StartedAt).String())
		return Result{OK: true, Message: "Signed in"}, nil
	case reason == ReasonTimedOut:
		a.Status = AttemptTimedOut
	default:
		a.Status = AttemptFailed
	}
	log.Info("authorization attempt failed", "status", string(a.Status), "reason", string(reason), "error", err)
	return failed(reason, err)
}

// callbackError converts a failed callback into the error taxonomy.
func callbackError(res CallbackResult, timeout time.Duration) error {
	switch res.Reason {
	case ReasonStateMismatch:
		return output.ErrCSRFMismatch()
	case ReasonDenied:
		return output.ErrUserDenied(res.Error, res.Description)
	case ReasonTimedOut:
		return output.ErrTimeout(fmt.Sprintf("No authorization callback received within %s", timeout))
	default:
		return fmt.Errorf("login canceled")
	}
}

func (m *Manager) resolveClientID(opts LoginOptions) (string, error) {
	if id := strings.TrimSpace(m.cfg.ClientID); id != "" {
		return id, nil
	}
	if opts.PromptClientID == nil {
		return "", output.ErrConfiguration("No OAuth client ID configured")
	}

	id, err := opts.PromptClientID()
	if err != nil {
		return "", err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", output.ErrConfiguration("No OAuth client ID provided")
	}

	if m.saveConfig != nil {
		if err := m.saveConfig("client_id", id); err != nil {
			return "", fmt.Errorf("failed to save client ID: %w", err)
		}
	}
	m.cfg.ClientID = id
	if m.cfg.Sources != nil {
		m.cfg.Sources["client_id"] = string(config.SourcePrompt)
	}
	return id, nil
}

func (m *Manager) dispatch(authURL string, noBrowser bool, notify func(string)) {
	if noBrowser {
		notify(fmt.Sprintf("Open this URL in your browser:\n%s\n\nWaiting for authentication...", authURL))
		return
	}
	if err := m.browser(authURL); err != nil {
		m.logger.Debug("browser launch failed", "error", err)
		notify(fmt.Sprintf("Couldn't open browser automatically.\nOpen this URL in your browser:\n%s\n\nWaiting for authentication...", authURL))
		return
	}
	notify(fmt.Sprintf("Opening browser for authentication...\nIf the browser doesn't open, visit: %s\n\nWaiting for authentication...", authURL))
}

func (m *Manager) oauthConfig(clientID, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.cfg.AuthorizeURL,
			TokenURL:  m.cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirectURI,
		Scopes:      m.cfg.Scopes,
	}
}

func (m *Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// expiryFor returns the token's expiry, falling back to the configured
// default lifetime when the provider omitted expires_in.
func (m *Manager) expiryFor(tok *oauth2.Token) time.Time {
	if tok.Expiry.IsZero() {
		return m.now().Add(m.cfg.DefaultTokenLifetime)
	}
	return tok.Expiry
}

// fetchIdentity queries the userinfo endpoint. Failure is not fatal to
// login; the identity is simply left unset.
func (m *Manager) fetchIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	if m.cfg.UserInfoURL == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, output.ErrNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, output.ErrAPI(resp.StatusCode, fmt.Sprintf("userinfo request failed: %s", strings.TrimSpace(string(body))))
	}

	var info struct {
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo response: %w", err)
	}

	name := info.Name
	if name == "" {
		name = info.PreferredUsername
	}
	return &Identity{DisplayName: name, Email: info.Email}, nil
}

// Logout removes every stored SSO artifact. It is idempotent.
func (m *Manager) Logout() error {
	if err := m.creds.Clear(); err != nil {
		return err
	}
	m.logger.Info("sso credential cleared")
	return nil
}

// Status describes the stored SSO credential without exposing secrets.
type Status struct {
	Enabled         bool       `json:"enabled"`
	ClientID        string     `json:"client_id,omitempty"`
	Authenticated   bool       `json:"authenticated"`
	Valid           bool       `json:"valid"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	HasRefreshToken bool       `json:"has_refresh_token"`
	DisplayName     string     `json:"display_name,omitempty"`
	Email           string     `json:"email,omitempty"`
	EnvToken        bool       `json:"env_token,omitempty"`
}

// Status reports the current SSO credential state.
func (m *Manager) Status() (*Status, error) {
	cred, err := m.creds.Load()
	if err != nil {
		return nil, err
	}

	s := &Status{
		Enabled:         m.cfg.SSOEnabled,
		ClientID:        m.cfg.ClientID,
		Authenticated:   cred.HasAccessToken(),
		Valid:           cred.ValidAt(m.now()),
		HasRefreshToken: cred.RefreshToken != "",
		EnvToken:        envToken() != "",
	}
	if exp := cred.Expiry(); !exp.IsZero() {
		s.ExpiresAt = &exp
	}
	if cred.Identity != nil {
		s.DisplayName = cred.Identity.DisplayName
		s.Email = cred.Identity.Email
	}
	return s, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
