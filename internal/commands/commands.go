package commands

import (
	"github.com/spf13/cobra"

	"github.com/devflow-labs/devflow/internal/output"
)

// CommandInfo describes a CLI command.
type CommandInfo struct {
	Name        string   `json:"name"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Actions     []string `json:"actions,omitempty"`
}

// CommandCategory groups commands by category.
type CommandCategory struct {
	Name     string        `json:"name"`
	Commands []CommandInfo `json:"commands"`
}

// commandCategories returns all command categories for the catalog.
func commandCategories() []CommandCategory {
	return []CommandCategory{
		{
			Name: "Credentials",
			Commands: []CommandInfo{
				{Name: "auth", Category: "credentials", Description: "Manage single sign-on", Actions: []string{"login", "logout", "status", "refresh", "token"}},
				{Name: "accounts", Category: "credentials", Description: "Manage service account credentials", Actions: []string{"list", "show", "connect", "disconnect"}},
			},
		},
		{
			Name: "Additional Commands",
			Commands: []CommandInfo{
				{Name: "config", Category: "additional", Description: "Manage configuration", Actions: []string{"show", "set", "unset"}},
				{Name: "commands", Category: "additional", Description: "List all available commands"},
				{Name: "completion", Category: "additional", Description: "Generate shell completions", Actions: []string{"bash", "zsh", "fish", "powershell"}},
				{Name: "help", Category: "additional", Description: "Show help"},
				{Name: "version", Category: "additional", Description: "Show version"},
			},
		},
	}
}

// CatalogCommandNames returns every command name in the catalog.
func CatalogCommandNames() []string {
	var names []string
	for _, cat := range commandCategories() {
		for _, c := range cat.Commands {
			names = append(names, c.Name)
		}
	}
	return names
}

// CatalogActions returns the listed subcommands of each catalog entry.
func CatalogActions() map[string][]string {
	actions := make(map[string][]string)
	for _, cat := range commandCategories() {
		for _, c := range cat.Commands {
			actions[c.Name] = c.Actions
		}
	}
	return actions
}

// NewCommandsCmd creates the commands listing command.
func NewCommandsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "commands",
		Aliases: []string{"cmds"},
		Short:   "List all available commands",
		Long:    "List all available devflow commands organized by category.",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd)
			if err != nil {
				return err
			}

			return app.OK(commandCategories(),
				output.WithSummary("All available devflow commands"),
				output.WithBreadcrumbs(
					output.Breadcrumb{
						Action:      "help",
						Cmd:         "devflow --help",
						Description: "View help",
					},
				),
			)
		},
	}
}
