package pipeline

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage identifies one ordered unit of the pipeline.
type Stage int

const (
	StageUnknown Stage = iota
	StageDownload
	StageAudio
	StageSummary
)

var stageNames = map[Stage]string{
	StageDownload: "download",
	StageAudio:    "audio-processing",
	StageSummary:  "summarization",
}

var titleCaser = cases.Title(language.English)

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Label returns a human-readable stage name such as "Audio Processing".
func (s Stage) Label() string {
	return titleCaser.String(strings.ReplaceAll(s.String(), "-", " "))
}

// Valid reports whether s is one of the declared stages.
func (s Stage) Valid() bool {
	_, ok := stageNames[s]
	return ok
}

// ParseStage resolves a stage name or queue identity.
func ParseStage(value string) (Stage, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, def := range definitions {
		if def.Stage.String() == normalized || def.Queue == normalized {
			return def.Stage, nil
		}
	}
	return StageUnknown, fmt.Errorf("unknown stage %q", value)
}

// Definition is the static description of a stage.
type Definition struct {
	Stage Stage
	// Queue is the identity stage jobs are enqueued under.
	Queue string
	// EntryStatus is the manifest status while the stage runs.
	EntryStatus Status
	// SubStatuses are later statuses the stage may report while running.
	SubStatuses []Status
	// BaseWeight and Span define the overall-progress window [Base, Base+Span].
	BaseWeight int
	Span       int

	MaxAttempts      int
	Timeout          time.Duration
	ExpectedDuration time.Duration
}

var definitions = []Definition{
	{
		Stage:            StageDownload,
		Queue:            "download",
		EntryStatus:      StatusDownloading,
		BaseWeight:       0,
		Span:             25,
		MaxAttempts:      3,
		Timeout:          30 * time.Minute,
		ExpectedDuration: 2 * time.Minute,
	},
	{
		Stage:            StageAudio,
		Queue:            "audio",
		EntryStatus:      StatusExtracting,
		SubStatuses:      []Status{StatusSeparating, StatusTranscribing},
		BaseWeight:       25,
		Span:             60,
		MaxAttempts:      2,
		Timeout:          2 * time.Hour,
		ExpectedDuration: 8 * time.Minute,
	},
	{
		Stage:            StageSummary,
		Queue:            "summary",
		EntryStatus:      StatusSummarizing,
		BaseWeight:       85,
		Span:             15,
		MaxAttempts:      3,
		Timeout:          10 * time.Minute,
		ExpectedDuration: time.Minute,
	},
}

// Definitions returns a copy of the ordered stage table.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition for stage.
func Lookup(stage Stage) (Definition, bool) {
	for _, def := range definitions {
		if def.Stage == stage {
			return def, true
		}
	}
	return Definition{}, false
}

// MustLookup is Lookup for stages known at compile time.
func MustLookup(stage Stage) Definition {
	def, ok := Lookup(stage)
	if !ok {
		panic(fmt.Sprintf("pipeline: no definition for stage %d", stage))
	}
	return def
}

// First returns the stage every flow starts with.
func First() Stage {
	return definitions[0].Stage
}

// Next returns the stage that follows stage, or false when stage is last.
func Next(stage Stage) (Stage, bool) {
	for i, def := range definitions {
		if def.Stage == stage && i+1 < len(definitions) {
			return definitions[i+1].Stage, true
		}
	}
	return StageUnknown, false
}

// Previous returns the stage that precedes stage, or false when stage is
// first.
func Previous(stage Stage) (Stage, bool) {
	for i, def := range definitions {
		if def.Stage == stage && i > 0 {
			return definitions[i-1].Stage, true
		}
	}
	return StageUnknown, false
}

// StageForStatus returns the stage that owns a running status.
func StageForStatus(status Status) (Stage, bool) {
	for _, def := range definitions {
		if def.Owns(status) {
			return def.Stage, true
		}
	}
	return StageUnknown, false
}

// Queues lists every queue identity in pipeline order.
func Queues() []string {
	out := make([]string, 0, len(definitions))
	for _, def := range definitions {
		out = append(out, def.Queue)
	}
	return out
}

// EstimatedDuration sums the expected duration of every stage.
func EstimatedDuration() time.Duration {
	var total time.Duration
	for _, def := range definitions {
		total += def.ExpectedDuration
	}
	return total
}

// Owns reports whether status belongs to this stage.
func (d Definition) Owns(status Status) bool {
	if status == d.EntryStatus {
		return true
	}
	for _, sub := range d.SubStatuses {
		if sub == status {
			return true
		}
	}
	return false
}

// Overall maps a stage-local percentage onto the overall progress scale.
func (d Definition) Overall(local float64) int {
	if local < 0 {
		local = 0
	}
	if local > 100 {
		local = 100
	}
	return d.BaseWeight + int(local*float64(d.Span)/100)
}

// End is the overall progress reached when the stage completes.
func (d Definition) End() int {
	return d.BaseWeight + d.Span
}
