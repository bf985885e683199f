package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/devflow-labs/devflow/internal/output"
)

// RedirectURI is the callback address registered with the identity provider.
// Port and path are fixed; they are not configurable per session.
const RedirectURI = "http://localhost:8080/oauth/callback"

// Reason explains why an authorization attempt did not yield a code.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonDenied         Reason = "denied"
	ReasonStateMismatch  Reason = "state_mismatch"
	ReasonTimedOut       Reason = "timed_out"
	ReasonCanceled       Reason = "canceled"
	ReasonExchangeFailed Reason = "exchange_failed"
)

// CallbackResult is either a Code or a Reason.
type CallbackResult struct {
	Code string

	Reason Reason
	// Error and Description carry the provider's error and
	// error_description parameters for ReasonDenied.
	Error       string
	Description string
}

// OK reports whether the callback carried an authorization code.
func (r CallbackResult) OK() bool {
	return r.Reason == ReasonNone && r.Code != ""
}

// ListenerConfig locates the loopback callback endpoint.
type ListenerConfig struct {
	// Addr is the bind address, e.g. "127.0.0.1:8080". Failing to bind it
	// fails the attempt.
	Addr string
	// ExtraAddrs are bound on a best-effort basis so that a browser
	// resolving Host to another loopback address still reaches the
	// listener. A port of 0 reuses the port bound for Addr.
	ExtraAddrs []string
	// Host is the host name used in the redirect URI.
	Host string
	// Path is the callback path.
	Path string
}

// DefaultListenerConfig returns the fixed endpoint matching RedirectURI.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Addr:       "127.0.0.1:8080",
		ExtraAddrs: []string{"[::1]:8080"},
		Host:       "localhost",
		Path: "/oauth/callback",
	}
}

var (
	successPage = template.Must(template.New("success").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>devflow</title></head>
<body><h1>Signed in</h1><p>You can close this window and return to devflow.</p></body></html>`))

	failurePage = template.Must(template.New("failure").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>devflow</title></head>
<body><h1>Sign-in failed</h1><p>Return to devflow for details. You can close this window.</p></body></html>`))
)

// Listener is a single-use loopback HTTP endpoint for one authorization
// attempt. It is bound by StartListener and released by Wait or Close.
type Listener struct {
	cfg           ListenerConfig
	expectedState string
	redirectURI   string
	logger        *slog.Logger

	ln     net.Listener
	extra  []net.Listener
	server *http.Server

	resultCh chan CallbackResult
	first    sync.Once

	closeOnce sync.Once
	closeErr  error
}

// StartListener binds the callback endpoint and starts serving. A bind
// failure is fatal for the attempt and is not retried.
func StartListener(ctx context.Context, cfg ListenerConfig, expectedState string, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = discardLogger()
	}

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return nil, output.ErrListenerStart(cfg.Addr, err)
	}

	port := ln.Addr().(*net.TCPAddr).Port
	l := &Listener{
		cfg:           cfg,
		expectedState: expectedState,
		redirectURI:   fmt.Sprintf("http://%s%s", net.JoinHostPort(cfg.Host, strconv.Itoa(port)), cfg.Path),
		logger:        logger,
		ln:            ln,
		resultCh:      make(chan CallbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, l.handleCallback)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, addr := range cfg.ExtraAddrs {
		host, p, err := net.SplitHostPort(addr)
		if err != nil {
			logger.Debug("skipping callback address", "addr", addr, "error", err)
			continue
		}
		if p == "0" {
			p = strconv.Itoa(port)
		}
		extra, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, p))
		if err != nil {
			logger.Debug("skipping callback address", "addr", addr, "error", err)
			continue
		}
		l.extra = append(l.extra, extra)
	}

	for _, bound := range l.listeners() {
		go l.serve(bound)
		logger.Debug("callback listener bound", "addr", bound.Addr().String())
	}
	return l, nil
}

func (l *Listener) listeners() []net.Listener {
	return append([]net.Listener{l.ln}, l.extra...)
}

func (l *Listener) serve(ln net.Listener) {
	if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		l.logger.Debug("callback server stopped", "error", err)
	}
}

// RedirectURI returns the redirect URI served by this listener.
func (l *Listener) RedirectURI() string {
	return l.redirectURI
}

// Addr returns the primary bound network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Addrs returns every bound network address, the primary one first.
func (l *Listener) Addrs() []net.Addr {
	var addrs []net.Addr
	for _, ln := range l.listeners() {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Wait suspends until the first callback request, the timeout, or ctx
// cancellation, whichever comes first. The ports are released before Wait
// returns on every path.
func (l *Listener) Wait(ctx context.Context, timeout time.Duration) CallbackResult {
	defer func() { _ = l.Close() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-l.resultCh:
		return res
	case <-timer.C:
		return CallbackResult{Reason: ReasonTimedOut}
	case <-ctx.Done():
		return CallbackResult{Reason: ReasonCanceled}
	}
}

// Close releases the port. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		// Shutdown closes the listener first, then waits briefly so the
		// confirmation page reaches the browser.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.server.Shutdown(ctx); err != nil {
			l.closeErr = l.server.Close()
		}
		// A Serve goroutine that has not started yet does not own its
		// listener, so close them here too.
		for _, ln := range l.listeners() {
			_ = ln.Close()
		}
		l.logger.Debug("callback listener released", "addr", l.ln.Addr().String())
	})
	return l.closeErr
}

func (l *Listener) handleCallback(w http.ResponseWriter, r *http.Request) {
	handled := false
	l.first.Do(func() {
		handled = true
		res := l.evaluate(r)
		l.render(w, res)
		l.resultCh <- res
	})

	if !handled {
		w.Header().Set("Connection", "close")
		http.Error(w, "Callback already processed", http.StatusConflict)
	}
}

func (l *Listener) evaluate(r *http.Request) CallbackResult {
	q := r.URL.Query()

	if subtle.ConstantTimeCompare([]byte(q.Get("state")), []byte(l.expectedState)) != 1 || l.expectedState == "" {
		return CallbackResult{Reason: ReasonStateMismatch}
	}
	if e := q.Get("error"); e != "" {
		return CallbackResult{Reason: ReasonDenied, Error: e, Description: q.Get("error_description")}
	}
	code := q.Get("code")
	if code == "" {
		return CallbackResult{Reason: ReasonDenied, Description: "callback carried no authorization code"}
	}
	return CallbackResult{Code: code}
}

func (l *Listener) render(w http.ResponseWriter, res CallbackResult) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Connection", "close")

	page := successPage
	status := http.StatusOK
	if !res.OK() {
		page = failurePage
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	if err := page.Execute(w, nil); err != nil {
		l.logger.Debug("failed to write callback page", "error", err)
	}
}
