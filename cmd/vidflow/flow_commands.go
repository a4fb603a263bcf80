package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vidflow/internal/api"
	"vidflow/internal/apiclient"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateFlowRequest
	var jsonOut bool
	var follow bool

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a video URL for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = strings.TrimSpace(args[0])
			return ctx.withClient(func(client *apiclient.Client) error {
				resp, err := client.CreateFlow(cmd.Context(), req)
				if apiclient.IsKind(err, "capacity_exceeded") {
					return errors.New("daemon is at capacity; wait for a running flow to finish and submit again")
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				estimate := time.Duration(resp.EstimatedDurationSeconds * float64(time.Second)).Round(time.Second)
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted %s (estimated %s)\n", resp.TaskID, estimate)
				if !follow {
					return nil
				}
				return watchFlow(cmd, client, resp.TaskID, watchSettings{})
			})
		},
	}

	cmd.Flags().StringVar(&req.Priority, "priority", "", "Job priority (low, normal, high)")
	cmd.Flags().StringVar(&req.Language, "language", "", "Transcription language override")
	cmd.Flags().StringVar(&req.SummaryStyle, "style", "", "Summary style override")
	cmd.Flags().BoolVar(&req.SkipSeparation, "skip-separation", false, "Transcribe without vocal separation")
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "Follow progress until the flow finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List flows known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				flows, err := client.ListFlows(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if jsonOut {
					if flows == nil {
						flows = []api.Flow{}
					}
					return writeJSON(cmd, flows)
				}
				out := cmd.OutOrStdout()
				if len(flows) == 0 {
					fmt.Fprintln(out, "No flows")
					return nil
				}
				colors := newPalette(shouldColorize(out))
				fmt.Fprint(out, renderTable(
					[]string{"Task", "Status", "Stage", "Progress", "Step", "Updated"},
					flowRows(flows, colors),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <task-id>...",
		Aliases: []string{"rm"},
		Short:   "Cancel flows and delete their files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				for _, taskID := range args {
					if err := client.RemoveFlow(cmd.Context(), taskID); err != nil {
						return fmt.Errorf("remove %s: %w", taskID, err)
					}
					fmt.Fprintf(out, "Removed %s\n", taskID)
				}
				return nil
			})
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <task-id>",
		Short: "Resume a failed flow at the stage that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				flow, err := client.RetryFlow(cmd.Context(), args[0])
				if apiclient.IsKind(err, "not_retryable") {
					return fmt.Errorf("%s is not in a failed state", args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s from %s\n", flow.TaskID, stageLabel(flow.CurrentStage))
				return nil
			})
		},
	}
}
