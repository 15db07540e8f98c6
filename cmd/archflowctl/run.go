package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/archflow/archflow/internal/cli/apiclient"
	"github.com/archflow/archflow/internal/cli/exit"
	"github.com/archflow/archflow/internal/cli/format"
)

func newRunCommand() *cobra.Command {
	var (
		inputJSON string
		paramsJSON string
		wait bool
		timeout time.Duration
		follow bool
	)

	cmd := &cobra.Command{
		Use: "run <workflow-id>",
		Short: "Start a workflow run",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := args[0]
			color := !noColor && format.IsTTY()

			input, err := parseJSONFlag(inputJSON)
			if err != nil {
				return exit.InvalidWorkflowError("invalid --input", err)
			}
			params, err := parseJSONFlag(paramsJSON)
			if err != nil {
				return exit.InvalidWorkflowError("invalid --params", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := apiclient.New(serverAddr)
			resp, err := client.RunFlow(ctx, workflowID, input, params)
			if err != nil {
				return classifyRunError(workflowID, err)
			}
			fmt.Println(format.KeyValue(color, "runId", resp.RunID))
			fmt.Println(format.RunStatus(color, resp.Status))

			if !wait {
				return nil
			}
			return waitForTerminal(ctx, client, resp.RunID, color, follow)
		},
	}

	cmd.Flags().StringVar(&inputJSON, "input", "", "JSON input object for the run")
	cmd.Flags().StringVar(&paramsJSON, "params", "", "JSON params object for the run")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the run to reach a terminal status")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream run events while waiting")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall timeout for run + wait")
	return cmd
}

func parseJSONFlag(raw string) (any, error) {
	if raw == "" {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("parse JSON: %w", err)
	}
	return v, nil
}

// classifyRunError maps an apiclient error onto the documented exit
// codes: an unknown-workflow 404 is InvalidWorkflow, a context
// deadline is Timeout, everything else is GenericFailure.
func classifyRunError(workflowID string, err error) error {
	var statusErr *apiclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return exit.InvalidWorkflowError(fmt.Sprintf("workflow %q not found", workflowID), err)
	}
	return exit.Classify(fmt.Sprintf("run %q failed", workflowID), err)
}

// waitForTerminal polls GET /api/runs/{runId}/status until the run
// reaches a terminal status, optionally streaming its SSE events
// concurrently (--follow), and exits with the code matching the
// terminal status.
func waitForTerminal(ctx context.Context, client *apiclient.Client, runID string, color, follow bool) error {
	if follow {
		go client.StreamEvents(ctx, runID, func(eventType, data string) {
			fmt.Printf("%s %s\n", format.Label(color, eventType+":"), data)
		})
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return exit.TimeoutError("run did not reach a terminal status before the deadline", ctx.Err())
		case <-ticker.C:
			st, err := client.Status(ctx, runID)
			if err != nil {
				return exit.Classify("fetch run status failed", err)
			}
			switch st.Status {
			case "completed":
				fmt.Println(format.RunStatus(color, st.Status))
				return nil
			case "failed":
				fmt.Println(format.RunStatus(color, st.Status))
				return exit.Failure("run failed", fmt.Errorf("%v", st.Errors))
			case "suspended", "stopped":
				fmt.Println(format.RunStatus(color, st.Status))
				return nil
			}
		}
	}
}
