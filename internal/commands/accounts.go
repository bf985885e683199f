package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/devflow-labs/devflow/internal/accounts"
	"github.com/devflow-labs/devflow/internal/appctx"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/tui"
)

// NewAccountsCmd creates the accounts command group.
func NewAccountsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"account"},
		Short:   "Manage service account credentials",
		Long: `Connect, inspect, and disconnect service accounts.

Kinds:
  repo_host       Repository host (alias: github)
  ticket_tracker  Ticket tracker (alias: jira)
  wiki            Wiki (alias: confluence)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsList(cmd)
		},
	}

	cmd.AddCommand(
		newAccountsListCmd(),
		newAccountsShowCmd(),
		newAccountsConnectCmd(),
		newAccountsDisconnectCmd(),
	)

	return cmd
}

func newAccountsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List account connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountsList(cmd)
		},
	}
}

func runAccountsList(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}

	list, err := app.Accounts.ListAccounts()
	if err != nil {
		return err
	}

	connected := 0
	for _, rec := range list {
		if rec.Connected {
			connected++
		}
	}

	return app.OK(list,
		output.WithSummary(fmt.Sprintf("%d of %d accounts connected", connected, len(list))),
		output.WithBreadcrumbs(output.Breadcrumb{
			Action:      "connect",
			Cmd:         "devflow accounts connect <kind>",
			Description: "Connect an account",
		}),
	)
}

func newAccountsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "show <kind>",
		Short:             "Show one account connection",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			kind, err := resolveKind(app, args)
			if err != nil {
				return err
			}

			rec, err := app.Accounts.GetAccount(kind)
			if err != nil {
				return err
			}

			if !rec.Connected {
				return app.OK(rec,
					output.WithSummary(kind.Label()+": not connected"),
					output.WithBreadcrumbs(output.Breadcrumb{
						Action:      "connect",
						Cmd:         "devflow accounts connect " + string(kind),
						Description: "Connect this account",
					}),
				)
			}
			return app.OK(rec, output.WithSummary(connectedSummary(rec)))
		},
	}
}

func connectedSummary(rec accounts.AccountCredential) string {
	who := rec.Username
	if who == "" {
		who = rec.Email
	}
	if who == "" {
		return rec.Kind.Label() + ": connected"
	}
	return fmt.Sprintf("%s: connected as %s", rec.Kind.Label(), who)
}

type connectOptions struct {
	token    string
	email    string
	baseURL  string
	noVerify bool
}

func newAccountsConnectCmd() *cobra.Command {
	var opts connectOptions

	cmd := &cobra.Command{
		Use:   "connect <kind>",
		Short: "Connect a service account",
		Long: `Store an API token for a service.

The token is checked against the service's current-user endpoint before it
is stored, unless --no-verify is given. Ticket tracker and wiki tokens
authenticate together with your email address and need a base URL, taken
from --base-url or the account_base_urls.<kind> config key.

The token may also be passed in DEVFLOW_ACCOUNT_TOKEN.`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			kind, err := resolveKind(app, args)
			if err != nil {
				return err
			}

			rec, err := buildAccountRecord(app, kind, opts)
			if err != nil {
				return err
			}

			if !opts.noVerify {
				if err := app.Track(cmd.Context(), "accounts.verify", func(ctx context.Context) error {
					id, err := app.Verifier.Verify(ctx, rec)
					if err != nil {
						return err
					}
					rec.Username = id.Username
					if rec.Email == "" {
						rec.Email = id.Email
					}
					return nil
				}); err != nil {
					return err
				}
			}

			if err := app.Accounts.StoreAccount(rec); err != nil {
				return err
			}

			stored, err := app.Accounts.GetAccount(kind)
			if err != nil {
				return err
			}

			return app.OK(stored,
				output.WithSummary(connectedSummary(stored)),
				output.WithBreadcrumbs(output.Breadcrumb{
					Action:      "disconnect",
					Cmd:         "devflow accounts disconnect " + string(kind),
					Description: "Remove this account",
				}),
			)
		},
	}

	cmd.Flags().StringVar(&opts.token, "token", "", "API token")
	cmd.Flags().StringVar(&opts.email, "email", "", "Account email (ticket_tracker, wiki)")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Service base URL")
	cmd.Flags().BoolVar(&opts.noVerify, "no-verify", false, "Store the token without checking it")

	return cmd
}

// buildAccountRecord fills the record from flags, environment, config, and
// finally interactive prompts.
func buildAccountRecord(app *appctx.App, kind accounts.Kind, opts connectOptions) (accounts.AccountCredential, error) {
	rec := accounts.AccountCredential{
		Kind:    kind,
		Token:   opts.token,
		Email:   opts.email,
		BaseURL: opts.baseURL,
	}
	if rec.Token == "" {
		rec.Token = os.Getenv("DEVFLOW_ACCOUNT_TOKEN")
	}
	if rec.BaseURL == "" {
		rec.BaseURL = app.Config.AccountBaseURLs[string(kind)]
	}

	interactive := app.IsInteractive()

	if rec.Token == "" {
		if !interactive {
			return rec, output.ErrUsageHint(kind.Label()+" token required", "Pass --token or set DEVFLOW_ACCOUNT_TOKEN")
		}
		token, err := tui.Secret(kind.Label() + " API token")
		if err != nil {
			return rec, err
		}
		rec.Token = token
	}

	if kind.UsesBasicAuth() && interactive {
		if rec.BaseURL == "" {
			u, err := tui.InputRequired(kind.Label()+" base URL", "https://example.atlassian.net")
			if err != nil {
				return rec, err
			}
			rec.BaseURL = u
		}
		if rec.Email == "" {
			email, err := tui.InputRequired("Email address", "you@example.com")
			if err != nil {
				return rec, err
			}
			rec.Email = email
		}
	}

	return rec, nil
}

func newAccountsDisconnectCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:               "disconnect <kind>",
		Short:             "Remove a service account",
		Long:              "Erase the stored token, identity, and metadata for one account kind.",
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: kindCompletion,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}
			kind, err := resolveKind(app, args)
			if err != nil {
				return err
			}

			before, err := app.Accounts.GetAccount(kind)
			if err != nil {
				return err
			}

			if before.Connected && !force && app.IsInteractive() {
				ok, err := tui.ConfirmDangerous(fmt.Sprintf("Disconnect %s?", kind.Label()))
				if err != nil {
					return err
				}
				if !ok {
					return output.ErrUsage("Canceled")
				}
			}

			if err := app.Accounts.ClearAccount(kind); err != nil {
				return err
			}

			summary := kind.Label() + " disconnected"
			if !before.Connected {
				summary = kind.Label() + " was not connected"
			}
			return app.OK(map[string]any{
				"kind":          kind,
				"was_connected": before.Connected,
			}, output.WithSummary(summary))
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation")

	return cmd
}
