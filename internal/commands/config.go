package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/devflow-labs/devflow/internal/config"
	"github.com/devflow-labs/devflow/internal/output"
)

// NewConfigCmd creates the config command for managing configuration.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage devflow configuration.

Configuration is loaded from multiple sources with the following precedence:
  flags > env > global > system > defaults

Config locations:
  - System: /etc/devflow/config.json
  - Global: ~/.config/devflow/config.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigSetCmd(),
		newConfigUnsetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long:  "Display the current effective configuration with source information.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd)
		},
	}
}

func runConfigShow(cmd *cobra.Command) error {
	app, err := requireApp(cmd)
	if err != nil {
		return err
	}
	cfg := app.Config

	values := map[string]string{
		"sso_enabled":            fmt.Sprintf("%t", cfg.SSOEnabled),
		"client_id":              cfg.ClientID,
		"authorize_url":          cfg.AuthorizeURL,
		"token_url":              cfg.TokenURL,
		"userinfo_url":           cfg.UserInfoURL,
		"scopes":                 strings.Join(cfg.Scopes, " "),
		"callback_timeout":       cfg.CallbackTimeout.String(),
		"default_token_lifetime": cfg.DefaultTokenLifetime.String(),
		"keyring_service":        cfg.KeyringService,
		"state_dir":              cfg.StateDir,
		"format":                 cfg.Format,
	}
	for kind, u := range cfg.AccountBaseURLs {
		values["account_base_urls."+kind] = u
	}

	configData := make(map[string]any, len(values))
	for key, value := range values {
		if value == "" {
			continue
		}
		source := cfg.Sources[key]
		if strings.HasPrefix(key, "account_base_urls.") {
			source = cfg.Sources["account_base_urls"]
		}
		if source == "" {
			source = string(config.SourceDefault)
		}
		configData[key] = map[string]string{
			"value":  value,
			"source": source,
		}
	}

	return app.OK(configData,
		output.WithSummary("Effective configuration"),
		output.WithBreadcrumbs(
			output.Breadcrumb{
				Action:      "set",
				Cmd:         "devflow config set <key> <value>",
				Description: "Set config value",
			},
		),
	)
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in the global config file.

Valid keys: ` + strings.Join(config.ValidKeys, ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			if !config.IsValidKey(key) {
				keys := append([]string(nil), config.ValidKeys...)
				sort.Strings(keys)
				return output.ErrUsage(fmt.Sprintf("Invalid config key %q. Valid keys: %s", key, strings.Join(keys, ", ")))
			}

			if err := config.SaveGlobal(key, value); err != nil {
				return output.ErrUsage(err.Error())
			}

			return app.OK(map[string]any{
				"key":   key,
				"value": value,
				"scope": "global",
				"path":  config.GlobalConfigPath(),
			},
				output.WithSummary(fmt.Sprintf("Set %s = %s (global)", key, value)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "show",
						Cmd:         "devflow config show",
						Description: "View config",
					},
				),
			)
		},
	}
}

func newConfigUnsetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unset <key>",
		Short: "Unset a configuration value",
		Long:  "Remove a configuration value from the global config file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			key := args[0]
			removed, err := config.UnsetGlobal(key)
			if err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			if !removed {
				return app.OK(map[string]any{
					"key":    key,
					"status": "not_set",
				}, output.WithSummary(fmt.Sprintf("Key not set: %s", key)))
			}

			return app.OK(map[string]any{
				"key":    key,
				"scope":  "global",
				"status": "unset",
			},
				output.WithSummary(fmt.Sprintf("Unset %s (global)", key)),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "show",
						Cmd:         "devflow config show",
						Description: "View config",
					},
				),
			)
		},
	}
}
