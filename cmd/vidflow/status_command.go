package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"vidflow/internal/api"
	"vidflow/internal/apiclient"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status [task-id]",
		Short: "Show daemon status, or one flow's details",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				colors := newPalette(shouldColorize(out))
				if len(args) == 1 {
					flow, err := client.GetFlow(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(cmd, flow)
					}
					renderFlowDetail(out, *flow, colors)
					return nil
				}

				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, status)
				}
				renderDaemonStatus(out, *status, colors)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func renderDaemonStatus(out io.Writer, status api.DaemonStatus, colors palette) {
	wf := status.Workflow
	fmt.Fprintln(out, colors.section("Daemon"))
	running := "stopped"
	if status.Running {
		running = fmt.Sprintf("running (pid %d, since %s)", status.PID, relativeTime(status.StartedAt))
	}
	fmt.Fprintln(out, colors.line("Daemon", status.Running, running))
	fmt.Fprintln(out, colors.line("Flows", wf.MaxConcurrentFlows <= 0 || wf.ActiveFlows < wf.MaxConcurrentFlows,
		fmt.Sprintf("%d active / %s max, %d tracked", wf.ActiveFlows, capacityLabel(wf.MaxConcurrentFlows), wf.TrackedFlows)))
	fmt.Fprintln(out, colors.line("Workers", true, fmt.Sprintf("%d busy / %d", wf.Busy, wf.Workers)))
	if wf.LastError != "" {
		fmt.Fprintln(out, colors.line("Last error", false, wf.LastError))
	}
	fmt.Fprintln(out, colors.line("Queue DB", databaseHealthy(status.Database), databaseLabel(status.Database)))
	fmt.Fprintln(out, colors.line("Recovery", status.Recovery.Failed == 0, fmt.Sprintf("%d reclaimed, %d tracked, %d requeued, %d failed",
		status.Recovery.Reclaimed, status.Recovery.Tracked, status.Recovery.Requeued, status.Recovery.Failed)))

	if len(wf.StageHealth) > 0 {
		fmt.Fprintln(out)
		title := "Stages"
		if !wf.StagesReady {
			title += " (degraded)"
		}
		fmt.Fprintln(out, colors.section(title))
		for _, health := range wf.StageHealth {
			fmt.Fprintln(out, colors.line(stageLabel(health.Name), health.Ready, health.Detail))
		}
	}

	if len(wf.QueueStats) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(wf.QueueStats))
		for _, key := range slices.Sorted(maps.Keys(wf.QueueStats)) {
			rows = append(rows, []string{key, strconv.Itoa(wf.QueueStats[key])})
		}
		fmt.Fprint(out, renderTable([]string{"Jobs", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, colors.section("Paths"))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Queue DB:", status.QueueDBPath)
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Tasks:", status.TasksDir)
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Lock:", status.LockFilePath)
}

func capacityLabel(limit int) string {
	if limit <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(limit)
}

func databaseHealthy(db api.DatabaseStatus) bool {
	return db.IntegrityOK && db.Error == ""
}

func databaseLabel(db api.DatabaseStatus) string {
	if db.Error != "" {
		return db.Error
	}
	label := fmt.Sprintf("schema v%d, %d jobs", db.SchemaVersion, db.TotalJobs)
	if !db.IntegrityOK {
		label += ", integrity check failed"
	}
	return label
}
