// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/devflow-labs/devflow/internal/accounts"
	"github.com/devflow-labs/devflow/internal/auth"
	"github.com/devflow-labs/devflow/internal/config"
	"github.com/devflow-labs/devflow/internal/observability"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/settings"
	"github.com/devflow-labs/devflow/internal/vault"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config   *config.Config
	Auth     *auth.Manager
	Accounts *accounts.Registry
	Verifier *accounts.Verifier
	Vault    *vault.Keyring
	Settings *settings.Store
	Output   *output.Writer
	Logger   *slog.Logger

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.CLIHooks

	// Flags holds the global flag values
	Flags GlobalFlags

	logLevel *slog.LevelVar
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Output format flags
	JSON   bool
	YAML   bool
	Quiet  bool
	MD     bool // Literal Markdown syntax output
	Styled bool // Force ANSI styled output (even when piped)
	JQ     string

	// Context flags
	ClientID string
	StateDir string

	// Behavior flags
	Verbose int // 0=off, 1=operations, 2=operations+requests (stacks with -v -v or -vv)
	Stats   bool
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	// Collector always runs to gather stats; hooks control output verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	hooks := observability.NewCLIHooks(0, collector, observability.NewTraceWriter())

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: observability.NewTransport(nil, hooks),
	}

	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	kr := vault.NewKeyring(cfg.KeyringService)
	st := settings.NewStore(cfg.StateDir)

	authMgr := auth.NewManager(cfg, kr, st, httpClient,
		auth.WithLogger(logger.With("component", "auth")),
		auth.WithConfigSaver(config.SaveGlobal),
	)

	format, ok := output.ParseFormat(cfg.Format)
	if !ok {
		format = output.FormatAuto
	}

	return &App{
		Config:    cfg,
		Auth:      authMgr,
		Accounts:  accounts.NewRegistry(kr, st, logger.With("component", "accounts")),
		Verifier:  accounts.NewVerifier(httpClient),
		Vault:     kr,
		Settings:  st,
		Logger:    logger,
		Collector: collector,
		Hooks:     hooks,
		logLevel:  level,
		Output: output.New(output.Options{
			Format: format,
			Writer: os.Stdout,
		}),
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	// Specific modes first
	format := output.Format(-1)
	switch {
	case a.Flags.Quiet:
		format = output.FormatQuiet
	case a.Flags.JSON:
		format = output.FormatJSON
	case a.Flags.YAML:
		format = output.FormatYAML
	case a.Flags.Styled:
		format = output.FormatStyled
	case a.Flags.MD:
		format = output.FormatMarkdown
	}
	if format < 0 {
		format, _ = output.ParseFormat(a.Config.Format)
	}
	a.Output = output.New(output.Options{
		Format: format,
		Writer: os.Stdout,
		JQ:     a.Flags.JQ,
	})

	// DEVFLOW_DEBUG can be "1", "2", or "true" (treated as 2 for full debug)
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("DEVFLOW_DEBUG"); debugEnv != "" {
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verboseLevel {
				verboseLevel = level
			}
		} else if debugEnv == "true" {
			verboseLevel = 2
		}
	}

	if a.Hooks != nil {
		a.Hooks.SetLevel(verboseLevel)
	}
	if verboseLevel > 0 && a.logLevel != nil {
		a.logLevel.Set(slog.LevelDebug)
	}
}

// Track runs fn as a named operation so it shows up in traces and stats.
func (a *App) Track(ctx context.Context, name string, fn func(context.Context) error) error {
	if a.Hooks == nil {
		return fn(ctx)
	}
	op := observability.OperationInfo{Name: name}
	ctx = a.Hooks.OnOperationStart(ctx, op)
	start := time.Now()
	err := fn(ctx)
	a.Hooks.OnOperationEnd(ctx, op, err, time.Since(start))
	return err
}

// OK outputs a success response, automatically including stats if --stats flag is set.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.Stats && a.Collector != nil {
		stats := a.Collector.Summary()
		opts = append(opts, output.WithStats(&stats))
	}
	return a.Output.OK(data, opts...)
}

// Err outputs an error response, printing stats to stderr if --stats flag is set.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}

	// Machine-consumable modes never get the stats line.
	if a.Flags.Stats && a.Collector != nil && !a.isMachineOutput() {
		stats := a.Collector.Summary()
		a.printStatsToStderr(&stats)
	}
	return nil
}

// isMachineOutput returns true if the output mode is intended for programmatic consumption.
// Checks both flags and config-driven format settings.
func (a *App) isMachineOutput() bool {
	if a.Flags.Quiet || a.Flags.JQ != "" {
		return true
	}
	if a.Config != nil && a.Config.Format == "quiet" {
		return true
	}
	return false
}

// printStatsToStderr outputs a compact stats line to stderr.
func (a *App) printStatsToStderr(stats *observability.SessionMetrics) {
	if stats == nil {
		return
	}

	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	if stats.TotalRequests == 1 {
		parts = append(parts, "1 request")
	} else if stats.TotalRequests > 1 {
		parts = append(parts, fmt.Sprintf("%d requests", stats.TotalRequests))
	}

	if stats.FailedRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d failed requests", stats.FailedRequests))
	}

	if stats.FailedOps > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", stats.FailedOps))
	}

	fmt.Fprintf(os.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
}

// IsInteractive returns true if the terminal supports interactive prompts.
func (a *App) IsInteractive() bool {
	if a.Flags.JSON || a.Flags.YAML || a.Flags.Quiet || a.Flags.JQ != "" {
		return false
	}

	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
