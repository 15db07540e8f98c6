package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/archflow/archflow/internal/cli/apiclient"
	"github.com/archflow/archflow/internal/cli/format"
)

func newStopCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use: "stop <workflow-id>",
		Short: "Stop an in-flight workflow run",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := args[0]
			color := !noColor && format.IsTTY()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := apiclient.New(serverAddr)
			if err := client.StopFlow(ctx, workflowID); err != nil {
				return classifyRunError(workflowID, err)
			}
			cmd.Println(format.OK(color, "stopped "+workflowID))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
