package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/archflow/archflow/internal/cli/apiclient"
	"github.com/archflow/archflow/internal/cli/exit"
	"github.com/archflow/archflow/internal/cli/format"
)

func newStatusCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use: "status <run-id>",
		Short: "Show a run's current status",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			color := !noColor && format.IsTTY()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := apiclient.New(serverAddr)
			st, err := client.Status(ctx, runID)
			if err != nil {
				return classifyRunError(runID, err)
			}
			cmd.Println(format.RunStatus(color, st.Status))
			cmd.Println(format.KeyValue(color, "completed", strings.Join(st.CompletedSteps, ", ")))
			cmd.Println(format.KeyValue(color, "failed", strings.Join(st.FailedSteps, ", ")))
			if len(st.Errors) > 0 {
				cmd.Println(format.KeyValue(color, "errors", fmt.Sprint(st.Errors)))
			}
			if st.Status == "failed" {
				return exit.Failure("run failed", fmt.Errorf("%v", st.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}
