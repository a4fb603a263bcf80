package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"vidflow/internal/config"
)

// Requirement is an external program a stage processor executes.
type Requirement struct {
	Name     string
	Command  string
	Stage    string
	Optional bool
}

// Status reports whether a requirement resolves on PATH.
type Status struct {
	Requirement
	Path      string
	Available bool
	Detail    string
}

// Requirements lists the binaries the configured processors run. The
// separator is optional when separation is disabled.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	return []Requirement{
		{Name: "yt-dlp", Command: cfg.Download.Binary, Stage: "download"},
		{Name: "FFmpeg", Command: cfg.Audio.FFmpegBinary, Stage: "audio-processing"},
		{Name: "Separator", Command: cfg.Audio.SeparatorBinary, Stage: "audio-processing", Optional: !cfg.Audio.SeparationEnabled},
		{Name: "WhisperX", Command: cfg.Audio.WhisperBinary, Stage: "audio-processing"},
	}
}

// CheckBinaries resolves each requirement.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		switch path, err := exec.LookPath(req.Command); {
		case req.Command == "":
			status.Detail = "command not configured"
		case err != nil:
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		default:
			status.Path = path
			status.Available = true
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required (non-optional) statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
