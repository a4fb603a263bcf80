package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"vidflow/internal/api"
	"vidflow/internal/pipeline"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

// palette colours status text. Every colour is disabled when output is not
// a terminal.
type palette struct {
	ok     *color.Color
	warn   *color.Color
	fail   *color.Color
	info   *color.Color
	header *color.Color
}

func newPalette(colorize bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		ok:     mk(color.FgGreen),
		warn:   mk(color.FgYellow),
		fail:   mk(color.FgRed),
		info:   mk(color.FgBlue),
		header: mk(color.FgBlue, color.Bold),
	}
}

func (p palette) status(status string) string {
	switch pipeline.Status(status) {
	case pipeline.StatusCompleted:
		return p.ok.Sprint(status)
	case pipeline.StatusFailed:
		return p.fail.Sprint(status)
	case pipeline.StatusPending:
		return p.warn.Sprint(status)
	default:
		return p.info.Sprint(status)
	}
}

func (p palette) line(label string, healthy bool, message string) string {
	marker := p.ok.Sprint("[OK]")
	if !healthy {
		marker = p.fail.Sprint("[ERROR]")
	}
	if message != "" {
		marker += " " + message
	}
	return fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", marker)
}

func (p palette) section(title string) string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	return p.header.Sprint(line)
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stageLabel(value string) string {
	if value == "" {
		return "-"
	}
	st, err := pipeline.ParseStage(value)
	if err != nil {
		return value
	}
	return st.Label()
}

// relativeTime renders an API timestamp as "3 minutes ago".
func relativeTime(value string) string {
	if value == "" {
		return "-"
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.Time(ts)
}

func percent(value int) string {
	return fmt.Sprintf("%d%%", value)
}

func flowRows(flows []api.Flow, colors palette) [][]string {
	rows := make([][]string, 0, len(flows))
	for _, flow := range flows {
		updated := flow.UpdatedAt
		if updated == "" {
			updated = flow.CreatedAt
		}
		rows = append(rows, []string{
			flow.TaskID,
			colors.status(flow.Status),
			stageLabel(flow.CurrentStage),
			percent(flow.Progress),
			flow.CurrentStep,
			relativeTime(updated),
		})
	}
	return rows
}

func renderFlowDetail(out io.Writer, flow api.Flow, colors palette) {
	fmt.Fprintln(out, colors.section("Flow "+flow.TaskID))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Status:", colors.status(flow.Status))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Stage:", stageLabel(flow.CurrentStage))
	fmt.Fprintf(out, "%s%-*s %s (stage %s)\n", statusIndent, statusLabelWidth, "Progress:", percent(flow.Progress), percent(flow.StageProgress))
	if flow.CurrentStep != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Step:", flow.CurrentStep)
	}
	if flow.Attempt > 0 {
		fmt.Fprintf(out, "%s%-*s %d\n", statusIndent, statusLabelWidth, "Attempt:", flow.Attempt)
	}
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Live:", yesNo(flow.Live))
	fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Created:", relativeTime(flow.CreatedAt))
	if flow.FinishedAt != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Finished:", relativeTime(flow.FinishedAt))
	}
	if flow.Error != "" {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Error:", colors.fail.Sprint(flow.Error))
	}
	if len(flow.Files) > 0 {
		rows := make([][]string, 0, len(flow.Files))
		for _, key := range slices.Sorted(maps.Keys(flow.Files)) {
			rows = append(rows, []string{key, flow.Files[key]})
		}
		fmt.Fprint(out, renderTable([]string{"File", "Path"}, rows, nil))
	}
}
