package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/devflow-labs/devflow/internal/appctx"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/version"
)

func TestTransformCobraError(t *testing.T) {
	tests := []struct {
		in   string
		want string
		code string
	}{
		{"flag needs an argument: --token", "--token requires a value", output.CodeUsage},
		{"unknown flag: --nope", "Unknown option: --nope", output.CodeUsage},
		{"unknown shorthand flag: 'z' in -z", "Unknown option: -z", output.CodeUsage},
		{`unknown command "frob" for "devflow"`, `unknown command "frob" for "devflow"`, output.CodeUsage},
		{"accepts 2 arg(s), received 1", "accepts 2 arg(s), received 1", output.CodeUsage},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := transformCobraError(errors.New(tt.in))
			var e *output.Error
			require.True(t, errors.As(err, &e), "expected *output.Error, got %T", err)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.want, e.Message)
		})
	}

	plain := errors.New("something else")
	assert.Equal(t, plain, transformCobraError(plain))
}

func TestFormatFromFlags(t *testing.T) {
	tests := []struct {
		args []string
		want output.Format
	}{
		{nil, output.FormatAuto},
		{[]string{"--json"}, output.FormatJSON},
		{[]string{"--yaml"}, output.FormatYAML},
		{[]string{"--md"}, output.FormatMarkdown},
		{[]string{"--styled", "--md"}, output.FormatStyled},
		{[]string{"--json", "--quiet"}, output.FormatQuiet},
	}
	for _, tt := range tests {
		cmd := NewRootCmd()
		require.NoError(t, cmd.PersistentFlags().Parse(tt.args))
		assert.Equal(t, tt.want, formatFromFlags(cmd.PersistentFlags()), "args %v", tt.args)
	}
}

func TestSkipSetup(t *testing.T) {
	root := NewCLI()
	root.InitDefaultHelpCmd()
	root.InitDefaultCompletionCmd()

	help, _, err := root.Find([]string{"help"})
	require.NoError(t, err)
	assert.True(t, skipSetup(help))

	bash, _, err := root.Find([]string{"completion", "bash"})
	require.NoError(t, err)
	assert.True(t, skipSetup(bash))

	status, _, err := root.Find([]string{"auth", "status"})
	require.NoError(t, err)
	assert.False(t, skipSetup(status))
}

func TestRootSetsUpApp(t *testing.T) {
	keyring.MockInit()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var captured *appctx.App
	root := NewRootCmd()
	root.AddCommand(&cobra.Command{
		Use: "probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			captured = appctx.FromContext(cmd.Context())
			return nil
		},
	})

	stateDir := t.TempDir()
	root.SetArgs([]string{"probe", "--json", "--client-id", "flag.example", "--state-dir", stateDir, "-vv"})
	root.SetOut(&bytes.Buffer{})
	require.NoError(t, root.Execute())

	require.NotNil(t, captured)
	assert.Equal(t, "flag.example", captured.Config.ClientID)
	assert.Equal(t, "flag", captured.Config.Sources["client_id"])
	assert.Equal(t, stateDir, captured.Settings.Dir())
	assert.True(t, captured.Flags.JSON)
	assert.Equal(t, 2, captured.Flags.Verbose)
	assert.Equal(t, 2, captured.Hooks.Level())
}

func TestVersionCommand(t *testing.T) {
	keyring.MockInit()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := NewCLI()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--state-dir", t.TempDir()})
	require.NoError(t, root.Execute())

	assert.Equal(t, version.Full()+"\n", out.String())
}
