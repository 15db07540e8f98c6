// Command archflowctl is archflow's CLI wrapper around the
// internal/httpapi control plane: run/resume/pause/stop/status
// subcommands, colored output via internal/cli/format, and a small
// exit code taxonomy (internal/cli/exit) built on a cobra command tree.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archflow/archflow/internal/cli/exit"
)

var (
	version = "dev"
	commit = "unknown"
	buildDate = "unknown"
)

var serverAddr string
var noColor bool

func main() {
	root := &cobra.Command{
		Use: "archflowctl",
		Short: "Control archflow workflow runs over its HTTP API",
		SilenceUsage: true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "archflowd base URL")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newRunCommand(),
		newResumeCommand(),
		newPauseCommand(),
		newStopCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)

	exit.Handle(root.Execute())
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use: "version",
		Short: "Print archflowctl version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("archflowctl %s (commit: %s, built: %s)\n", version, commit, buildDate)
			return nil
		},
	}
}
