package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devflow-labs/devflow/internal/accounts"
	"github.com/devflow-labs/devflow/internal/appctx"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/tui"
)

// requireApp returns the App attached by the root command.
func requireApp(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

// resolveKind takes the kind from the first argument, or asks for one when
// the terminal is interactive.
func resolveKind(app *appctx.App, args []string) (accounts.Kind, error) {
	if len(args) > 0 {
		return accounts.ParseKind(args[0])
	}
	if !app.IsInteractive() {
		return "", output.ErrUsageHint("Account kind required", "Valid kinds: "+kindList())
	}

	options := make([]tui.SelectOption, 0, len(accounts.Kinds()))
	for _, k := range accounts.Kinds() {
		options = append(options, tui.SelectOption{Value: string(k), Label: k.Label()})
	}
	selected, err := tui.Select("Which account?", options)
	if err != nil {
		return "", err
	}
	return accounts.ParseKind(selected)
}

func kindList() string {
	names := make([]string, 0, len(accounts.Kinds()))
	for _, k := range accounts.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

// kindCompletion completes account kind arguments.
func kindCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, k := range accounts.Kinds() {
		if strings.HasPrefix(string(k), toComplete) {
			out = append(out, string(k)+"\t"+k.Label())
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}
