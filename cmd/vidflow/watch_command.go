package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"vidflow/internal/apiclient"
	"vidflow/internal/pipeline"
)

type watchSettings struct {
	since uint64
	plain bool
}

// eventPayload is the union of fields the coordinator puts in event payloads.
type eventPayload struct {
	Status          string  `json:"status"`
	Stage           string  `json:"stage"`
	Step            string  `json:"step"`
	StageProgress   float64 `json:"stageProgress"`
	OverallProgress float64 `json:"overallProgress"`
	Error           string  `json:"error"`
	ErrorKind       string  `json:"errorKind"`
	Attempt         int     `json:"attempt"`
	MaxAttempts     int     `json:"maxAttempts"`
	Retrying        bool    `json:"retrying"`
	Removed         bool    `json:"removed"`
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var settings watchSettings

	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a flow's events until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *apiclient.Client) error {
				return watchFlow(cmd, client, args[0], settings)
			})
		},
	}

	cmd.Flags().Uint64Var(&settings.since, "since", 0, "Resume after this event sequence number")
	cmd.Flags().BoolVar(&settings.plain, "plain", false, "Print one line per event even on a terminal")
	return cmd
}

// watchFlow streams events for taskID. It returns an error when the flow ends
// failed or removed so the exit status reflects the outcome.
func watchFlow(cmd *cobra.Command, client *apiclient.Client, taskID string, settings watchSettings) error {
	out := cmd.OutOrStdout()
	tty := !settings.plain && shouldColorize(out)
	colors := newPalette(tty)
	view := &watchView{out: out, colors: colors}
	if tty {
		view.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetDescription(taskID),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionShowElapsedTimeOnFinish(),
		)
	}

	err := client.Watch(cmd.Context(), taskID, apiclient.WatchOptions{Since: settings.since}, view.handle)
	view.finish()
	if err != nil {
		return err
	}
	return view.outcome
}

type watchView struct {
	out     io.Writer
	colors  palette
	bar     *progressbar.ProgressBar
	outcome error
}

func (v *watchView) handle(evt apiclient.StreamEvent) error {
	if evt.Flow != nil {
		renderFlowDetail(v.out, *evt.Flow, v.colors)
		if evt.Flow.Status == string(pipeline.StatusFailed) {
			v.outcome = fmt.Errorf("flow %s failed: %s", evt.Flow.TaskID, evt.Flow.Error)
		}
		return nil
	}

	var payload eventPayload
	if len(evt.Event.Payload) > 0 {
		if err := json.Unmarshal(evt.Event.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", evt.Name, err)
		}
	}

	switch evt.Name {
	case "progress":
		if v.bar != nil {
			v.bar.Describe(fmt.Sprintf("%-18s %s", stageLabel(payload.Stage), payload.Step))
			_ = v.bar.Set(int(payload.OverallProgress))
			return nil
		}
		v.printf("%4.0f%%  %s: %s", payload.OverallProgress, stageLabel(payload.Stage), payload.Step)
	case "status-change":
		if payload.Removed {
			v.outcome = fmt.Errorf("flow %s was removed", evt.Event.TaskID)
			v.printf("%s", v.colors.warn.Sprint("removed"))
			return nil
		}
		v.printf("status -> %s", v.colors.status(payload.Status))
	case "stage-complete":
		if v.bar != nil {
			_ = v.bar.Set(int(payload.OverallProgress))
		}
		v.printf("%s complete", stageLabel(payload.Stage))
	case "stage-failed":
		attempt := fmt.Sprintf("attempt %d/%d", payload.Attempt, payload.MaxAttempts)
		if payload.Retrying {
			v.printf("%s failed (%s), retrying: %s", stageLabel(payload.Stage), attempt, v.colors.warn.Sprint(payload.Error))
			return nil
		}
		v.outcome = fmt.Errorf("flow %s failed at %s: %s", evt.Event.TaskID, stageLabel(payload.Stage), payload.Error)
		v.printf("%s failed (%s): %s", stageLabel(payload.Stage), attempt, v.colors.fail.Sprint(payload.Error))
	case "complete":
		if v.bar != nil {
			_ = v.bar.Set(100)
		}
		v.printf("%s", v.colors.ok.Sprint("complete"))
	}
	return nil
}

// printf writes a line above the progress bar.
func (v *watchView) printf(format string, args ...any) {
	if v.bar != nil {
		_ = v.bar.Clear()
	}
	fmt.Fprintf(v.out, format+"\n", args...)
	if v.bar != nil {
		_ = v.bar.RenderBlank()
	}
}

func (v *watchView) finish() {
	if v.bar == nil {
		return
	}
	_ = v.bar.Close()
	fmt.Fprintln(v.out)
}
