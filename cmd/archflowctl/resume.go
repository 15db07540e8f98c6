package main

import (
	"context"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/archflow/archflow/internal/cli/apiclient"
	"github.com/archflow/archflow/internal/cli/exit"
	"github.com/archflow/archflow/internal/cli/format"
)

func newResumeCommand() *cobra.Command {
	var (
		resumeToken string
		userDataRaw string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use: "resume <workflow-id>",
		Short: "Resume a suspended workflow run",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := args[0]
			color := !noColor && format.IsTTY()

			if resumeToken == "" || userDataRaw == "" {
				if err := promptResumeInput(&resumeToken, &userDataRaw); err != nil {
					return exit.Failure("resume prompt failed", err)
				}
			}
			userData, err := parseJSONFlag(userDataRaw)
			if err != nil {
				return exit.InvalidWorkflowError("invalid --user-data", err)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := apiclient.New(serverAddr)
			resp, err := client.ResumeFlow(ctx, workflowID, resumeToken, userData)
			if err != nil {
				return classifyRunError(workflowID, err)
			}
			cmd.Println(format.KeyValue(color, "runId", resp.RunID))
			cmd.Println(format.RunStatus(color, resp.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&resumeToken, "resume-token", "", "resume token returned by a suspended run")
	cmd.Flags().StringVar(&userDataRaw, "user-data", "", "JSON value to resume the suspended step with")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

// promptResumeInput fills in any missing resumeToken/userData via an
// interactive huh form, grounded on
// internal/commands/setup/forms/apikey.go (huh.NewForm/NewGroup/NewInput
// with inline Validate).
func promptResumeInput(resumeToken, userData *string) error {
	fields := []huh.Field{}
	if *resumeToken == "" {
		fields = append(fields, huh.NewInput().
			Title("Resume token").
			Description("Token returned when the run suspended").
			Value(resumeToken).
			Validate(func(s string) error {
				if s == "" {
					return huhRequiredErr("resume token")
				}
				return nil
			}))
	}
	if *userData == "" {
		fields = append(fields, huh.NewText().
			Title("Resume data (JSON)").
			Description("Value the suspended step will read back").
			Value(userData).
			Validate(func(s string) error {
				if s == "" {
					return huhRequiredErr("resume data")
				}
				return nil
			}))
	}
	if len(fields) == 0 {
		return nil
	}
	form := huh.NewForm(huh.NewGroup(fields...))
	return form.Run()
}

func huhRequiredErr(field string) error {
	return &missingFieldError{field: field}
}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return e.field + " is required" }
