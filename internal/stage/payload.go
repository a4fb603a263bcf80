package stage

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"

	"vidflow/internal/services"
)

// Options are the caller-supplied knobs of a flow.
type Options struct {
	Priority       string `json:"priority,omitempty"`
	Language       string `json:"language,omitempty"`
	SummaryStyle   string `json:"summaryStyle,omitempty"`
	SkipSeparation bool   `json:"skipSeparation,omitempty"`
}

// SummaryStyles lists the accepted Options.SummaryStyle values.
var SummaryStyles = []string{"concise", "detailed", "bullets"}

// ValidSummaryStyle reports whether style is empty or a known style.
func ValidSummaryStyle(style string) bool {
	style = strings.ToLower(strings.TrimSpace(style))
	return style == "" || slices.Contains(SummaryStyles, style)
}

// Input is what a stage job carries. Previous holds the successful result of
// the preceding stage and is nil for the first stage.
type Input struct {
	TaskID   string  `json:"taskId"`
	URL      string  `json:"url"`
	Options  Options `json:"options"`
	WorkDir  string  `json:"workDir"`
	Previous *Result `json:"previous,omitempty"`
}

// File returns a path produced by an earlier stage.
func (in Input) File(name string) (string, bool) {
	if in.Previous == nil {
		return "", false
	}
	path, ok := in.Previous.Files[name]
	return path, ok && path != ""
}

// Result is produced exactly once per stage attempt.
type Result struct {
	TaskID    string             `json:"taskId"`
	Stage     string             `json:"stage"`
	Success   bool               `json:"success"`
	Files     map[string]string  `json:"files,omitempty"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	Error     string             `json:"error,omitempty"`
	ErrorKind services.ErrorKind `json:"errorKind,omitempty"`
}

// Succeeded builds a successful result. Files from earlier stages are carried
// forward so later stages can locate every artifact.
func Succeeded(in Input, stageName string, files map[string]string, metadata map[string]any) Result {
	merged := map[string]string{}
	if in.Previous != nil {
		maps.Copy(merged, in.Previous.Files)
	}
	maps.Copy(merged, files)
	return Result{
		TaskID:   in.TaskID,
		Stage:    stageName,
		Success:  true,
		Files:    merged,
		Metadata: metadata,
	}
}

// Failed builds a failure result from err, keeping its classification.
func Failed(taskID, stageName string, err error) Result {
	details := services.Details(err)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "stage failed"
	}
	return Result{
		TaskID:    taskID,
		Stage:     stageName,
		Success:   false,
		Error:     message,
		ErrorKind: details.Kind,
	}
}

// EncodeInput serializes an input for the job queue.
func EncodeInput(in Input) (string, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "stage", "encode input", "Stage input could not be serialized", err)
	}
	return string(data), nil
}

// DecodeInput parses a queued input.
func DecodeInput(raw string) (Input, error) {
	var in Input
	if strings.TrimSpace(raw) == "" {
		return in, services.Wrap(services.ErrValidation, "stage", "decode input", "Stage input missing", nil)
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return in, services.Wrap(services.ErrValidation, "stage", "decode input", "Stage input invalid", err)
	}
	return in, nil
}

// EncodeResult serializes a result for the job row.
func EncodeResult(res Result) (string, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeResult parses a stored result. An empty string yields nil.
func DecodeResult(raw string) (*Result, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, services.Wrap(services.ErrValidation, "stage", "decode result", "Stage result invalid", err)
	}
	return &res, nil
}
