package commands_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devflow-labs/devflow/internal/cli"
	"github.com/devflow-labs/devflow/internal/commands"
)

func TestCatalogMatchesRegisteredCommands(t *testing.T) {
	root := cli.NewCLI()

	// Trigger Cobra's auto-addition of help and completion subcommands
	root.InitDefaultHelpCmd()
	root.InitDefaultCompletionCmd()

	var registered []string
	for _, cmd := range root.Commands() {
		registered = append(registered, cmd.Name())
	}

	catalog := commands.CatalogCommandNames()

	sort.Strings(registered)
	sort.Strings(catalog)
	assert.Equal(t, catalog, registered, "catalog and registered commands differ")
}

func TestCatalogActionsMatchSubcommands(t *testing.T) {
	root := cli.NewCLI()

	for name, actions := range commands.CatalogActions() {
		if len(actions) == 0 || name == "completion" {
			continue
		}
		cmd, _, err := root.Find([]string{name})
		if !assert.NoError(t, err, name) {
			continue
		}

		var subs []string
		for _, sub := range cmd.Commands() {
			subs = append(subs, sub.Name())
		}
		assert.ElementsMatch(t, actions, subs, name)
	}
}
