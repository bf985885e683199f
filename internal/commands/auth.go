// Package commands implements the CLI commands.
package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/devflow-labs/devflow/internal/appctx"
	"github.com/devflow-labs/devflow/internal/auth"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/tui"
)

// NewAuthCmd creates the auth command group.
func NewAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage single sign-on",
		Long:  "Sign in with your identity provider, inspect the stored credential, and sign out.",
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthStatusCmd(),
		newAuthRefreshCmd(),
		newAuthTokenCmd(),
	)

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with single sign-on",
		Long: `Start the OAuth authorization-code flow.

A local callback endpoint is opened on http://localhost:8080/oauth/callback
(listening on 127.0.0.1:8080, and on [::1]:8080 where IPv6 loopback is
available) and the provider's sign-in page is opened in your browser. The attempt
expires after callback_timeout (default 5m). Press Ctrl-C to cancel.

If no client_id is configured you are asked for one, and it is saved to the
global config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			opts := auth.LoginOptions{NoBrowser: noBrowser}
			interactive := app.IsInteractive()
			if interactive {
				opts.PromptClientID = func() (string, error) {
					return tui.InputRequired("OAuth client ID", "1234567890-abc.apps.example.com")
				}
			}

			var res auth.Result
			err = app.Track(ctx, "auth.login", func(ctx context.Context) error {
				// The prompt and the spinner would fight over the terminal, so
				// the spinner only runs once a client ID is known.
				if interactive && app.Config.ClientID != "" {
					_, err := tui.NewSpinner("Waiting for sign-in in your browser").Run(ctx,
						func(ctx context.Context, notify func(string)) (string, error) {
							opts.Notify = notify
							var err error
							res, err = app.Auth.BeginSSO(ctx, opts)
							return res.Message, err
						})
					return err
				}

				opts.Notify = func(msg string) { fmt.Fprintln(cmd.ErrOrStderr(), msg) }
				var err error
				res, err = app.Auth.BeginSSO(ctx, opts)
				return err
			})
			if err != nil {
				return err
			}

			status, err := app.Auth.Status()
			if err != nil {
				return err
			}

			return app.OK(status,
				output.WithSummary(res.Message),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "status",
						Cmd:         "devflow auth status",
						Description: "Show credential status",
					},
					output.Breadcrumb{
						Action:      "connect",
						Cmd:         "devflow accounts connect <kind>",
						Description: "Connect a service account",
					},
				),
			)
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print the sign-in URL instead of opening a browser")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored SSO credential",
		Long:  "Erase the access token, refresh token, identity, and expiry.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Auth.Logout(); err != nil {
				return err
			}

			return app.OK(map[string]string{
				"status": "logged_out",
			}, output.WithSummary("Signed out"))
		},
	}
}

// authStatus is the data of `auth status`.
type authStatus struct {
	*auth.Status
	Vault string `json:"vault"`
}

func newAuthStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the SSO credential status",
		Long: `Display the stored SSO credential without contacting the provider.

With --check an expired access token is refreshed, and the command fails
if no valid token can be obtained.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Vault.Probe(); err != nil {
				app.Logger.Debug("vault probe failed", "error", err)
				return app.OK(authStatus{
					Status: &auth.Status{Enabled: app.Config.SSOEnabled, ClientID: app.Config.ClientID},
					Vault:  "unavailable",
				}, output.WithSummary("Secret store unavailable"))
			}

			if check {
				if err := app.Track(cmd.Context(), "auth.check", func(ctx context.Context) error {
					_, err := app.Auth.EnsureValid(ctx)
					return err
				}); err != nil {
					return err
				}
			}

			status, err := app.Auth.Status()
			if err != nil {
				return err
			}

			summary, crumbs := statusSummary(status, time.Now())
			return app.OK(authStatus{Status: status, Vault: "available"},
				output.WithSummary(summary),
				output.WithBreadcrumbs(crumbs...),
			)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Refresh an expired token and fail if none is valid")

	return cmd
}

func statusSummary(s *auth.Status, now time.Time) (string, []output.Breadcrumb) {
	login := output.Breadcrumb{Action: "login", Cmd: "devflow auth login", Description: "Sign in"}

	switch {
	case s.EnvToken:
		return "Using token from " + auth.EnvToken, nil
	case !s.Enabled:
		return "Single sign-on is disabled", []output.Breadcrumb{{
			Action:      "enable",
			Cmd:         "devflow config set sso_enabled true",
			Description: "Enable single sign-on",
		}}
	case !s.Authenticated:
		return "Not signed in", []output.Breadcrumb{login}
	case !s.Valid && s.HasRefreshToken:
		return "Access token expired", []output.Breadcrumb{{
			Action:      "refresh",
			Cmd:         "devflow auth refresh",
			Description: "Refresh the access token",
		}}
	case !s.Valid:
		return "Access token expired", []output.Breadcrumb{login}
	}

	who := "Signed in"
	if s.Email != "" {
		who = "Signed in as " + s.Email
	}
	if s.ExpiresAt != nil {
		who += fmt.Sprintf(" (expires in %s)", s.ExpiresAt.Sub(now).Round(time.Minute))
	}
	return who, nil
}

func newAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh the access token",
		Long:  "Force a refresh of the access token using the stored refresh token.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			if err := app.Track(cmd.Context(), "auth.refresh", app.Auth.Refresh); err != nil {
				return err
			}

			status, err := app.Auth.Status()
			if err != nil {
				return err
			}

			data := map[string]any{"status": "refreshed"}
			if status.ExpiresAt != nil {
				data["expires_at"] = status.ExpiresAt.UTC().Format(time.RFC3339)
			}
			return app.OK(data, output.WithSummary("Access token refreshed"))
		},
	}
}

func newAuthTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the access token",
		Long: `Print a valid access token to stdout for use with other tools.

If DEVFLOW_TOKEN is set it is returned directly. Otherwise the stored token
is used, refreshed first when it has expired.

Examples:
  curl -H "Authorization: Bearer $(devflow auth token)" ...
  devflow auth token --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			var token string
			if err := app.Track(cmd.Context(), "auth.token", func(ctx context.Context) error {
				var err error
				token, err = app.Auth.AccessToken(ctx)
				return err
			}); err != nil {
				return err
			}

			// Raw output by default for shell substitution.
			if wantsEnvelope(app) {
				return app.OK(map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func wantsEnvelope(app *appctx.App) bool {
	return app.Flags.JSON || app.Flags.YAML || app.Flags.JQ != ""
}
