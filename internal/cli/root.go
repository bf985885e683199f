package cli

import (
	"os"
	"regexp"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/devflow-labs/devflow/internal/appctx"
	"github.com/devflow-labs/devflow/internal/commands"
	"github.com/devflow-labs/devflow/internal/config"
	"github.com/devflow-labs/devflow/internal/output"
	"github.com/devflow-labs/devflow/internal/version"
)

// NewRootCmd creates the root cobra command.
func NewRootCmd() *cobra.Command {
	var flags appctx.GlobalFlags

	cmd := &cobra.Command{
		Use:           "devflow",
		Short:         "Engineering workflow credentials",
		Long:          "devflow signs you in with single sign-on and manages the service accounts your workflows use.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip setup for help and shell completion
			if skipSetup(cmd) {
				return nil
			}

			cfg, err := config.Load(config.FlagOverrides{
				ClientID: flags.ClientID,
				StateDir: flags.StateDir,
			})
			if err != nil {
				return err
			}

			// Create app and store in context
			app := appctx.NewApp(cfg)
			app.Flags = flags
			app.ApplyFlags()

			cmd.SetContext(appctx.WithApp(cmd.Context(), app))
			return nil
		},
	}

	// Allow flags anywhere in the command line
	cmd.Flags().SetInterspersed(true)
	cmd.PersistentFlags().SetInterspersed(true)

	// Output format flags
	cmd.PersistentFlags().BoolVarP(&flags.JSON, "json", "j", false, "Output as JSON")
	cmd.PersistentFlags().BoolVar(&flags.YAML, "yaml", false, "Output as YAML")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Output data only, no envelope")
	cmd.PersistentFlags().BoolVarP(&flags.MD, "md", "m", false, "Output as Markdown (portable)")
	cmd.PersistentFlags().BoolVar(&flags.MD, "markdown", false, "Output as Markdown (portable)")
	cmd.PersistentFlags().BoolVar(&flags.Styled, "styled", false, "Force styled output (ANSI colors)")
	cmd.PersistentFlags().StringVar(&flags.JQ, "jq", "", "Filter output data with a jq expression")

	// Context flags
	cmd.PersistentFlags().StringVar(&flags.ClientID, "client-id", "", "OAuth client ID")
	cmd.PersistentFlags().StringVar(&flags.StateDir, "state-dir", "", "Directory for non-secret state")

	// Behavior flags
	cmd.PersistentFlags().CountVarP(&flags.Verbose, "verbose", "v", "Verbose output (-v for ops, -vv for requests)")
	cmd.PersistentFlags().BoolVar(&flags.Stats, "stats", false, "Show session statistics")

	return cmd
}

func skipSetup(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
		return true
	}
	return cmd.Parent() != nil && cmd.Parent().Name() == "completion"
}

// NewCLI creates the root command with every subcommand registered.
func NewCLI() *cobra.Command {
	cmd := NewRootCmd()

	cmd.AddCommand(commands.NewAuthCmd())
	cmd.AddCommand(commands.NewAccountsCmd())
	cmd.AddCommand(commands.NewConfigCmd())
	cmd.AddCommand(commands.NewCommandsCmd())
	cmd.AddCommand(commands.NewVersionCmd())

	return cmd
}

// Execute runs the root command and exits with the error's exit code.
func Execute() {
	cmd := NewCLI()

	// Use ExecuteC to get the executed command (for correct context access)
	executedCmd, err := cmd.ExecuteC()
	if err == nil {
		return
	}

	err = transformCobraError(err)
	apiErr := output.AsError(err)

	// Try to use app.Err() if app is available (for --stats support)
	if app := appctx.FromContext(executedCmd.Context()); app != nil {
		_ = app.Err(err)
		os.Exit(apiErr.ExitCode())
	}

	// Fallback: output error directly (app not available, e.g., during setup)
	writer := output.New(output.Options{
		Format: formatFromFlags(cmd.PersistentFlags()),
		Writer: os.Stdout,
	})
	_ = writer.Err(err)

	os.Exit(apiErr.ExitCode())
}

// formatFromFlags picks the output format from raw flag values, following
// the same precedence as App.ApplyFlags.
func formatFromFlags(pf *pflag.FlagSet) output.Format {
	flag := func(name string) bool {
		v, _ := pf.GetBool(name)
		return v
	}

	switch {
	case flag("quiet"):
		return output.FormatQuiet
	case flag("json"):
		return output.FormatJSON
	case flag("yaml"):
		return output.FormatYAML
	case flag("styled"):
		return output.FormatStyled
	case flag("md"):
		return output.FormatMarkdown
	default:
		return output.FormatAuto
	}
}

var shorthandFlagRe = regexp.MustCompile(`unknown shorthand flag: '.' in (-\w)`)

// transformCobraError rewrites cobra's parse errors as usage errors.
func transformCobraError(err error) error {
	msg := err.Error()

	if flag, ok := strings.CutPrefix(msg, "flag needs an argument: "); ok {
		return output.ErrUsage(flag + " requires a value")
	}

	if flag, ok := strings.CutPrefix(msg, "unknown flag: "); ok {
		return output.ErrUsage("Unknown option: " + flag)
	}

	if strings.HasPrefix(msg, "unknown shorthand flag: ") {
		if matches := shorthandFlagRe.FindStringSubmatch(msg); len(matches) > 1 {
			return output.ErrUsage("Unknown option: " + matches[1])
		}
	}

	if strings.HasPrefix(msg, "unknown command ") {
		return output.ErrUsageHint(msg, "Run: devflow commands")
	}

	if strings.Contains(msg, "invalid argument") ||
		strings.Contains(msg, "arg(s), received") {
		return output.ErrUsage(msg)
	}

	return err
}
