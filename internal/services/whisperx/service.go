package whisperx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Runner executes a command, forwarding each output line to onLine.
type Runner interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
}

// Service provides WhisperX transcription capabilities.
type Service struct {
	cfg    Config
	runner Runner
}

// NewService creates a WhisperX service with the given configuration.
func NewService(cfg Config, runner Runner) *Service {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = DefaultBinary
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	return &Service{cfg: cfg, runner: runner}
}

// Binary returns the executable name.
func (s *Service) Binary() string {
	return s.cfg.Binary
}

// Model returns the configured model name for logging.
func (s *Service) Model() string {
	return s.cfg.Model
}

// Transcribe runs WhisperX on source and loads the resulting transcript.
// onProgress receives 0..100 as reported by the tool.
func (s *Service) Transcribe(ctx context.Context, source, outputDir, language string, onProgress func(float64)) (Transcript, string, error) {
	if source == "" {
		return Transcript{}, "", errors.New("transcribe: source path required")
	}
	if s.runner == nil {
		return Transcript{}, "", errors.New("transcribe: runner not configured")
	}
	if outputDir == "" {
		outputDir = filepath.Dir(source)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Transcript{}, "", fmt.Errorf("transcribe: ensure output dir: %w", err)
	}

	args := s.BuildArgs(source, outputDir, language)
	err := s.runner.Run(ctx, s.cfg.Binary, args, func(line string) {
		if onProgress == nil {
			return
		}
		if pct, ok := ParseProgress(line); ok {
			onProgress(pct)
		}
	})
	if err != nil {
		return Transcript{}, "", err
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	jsonPath := filepath.Join(outputDir, base+".json")
	transcript, err := LoadTranscript(jsonPath)
	if err != nil {
		return Transcript{}, "", fmt.Errorf("transcribe: load output: %w", err)
	}
	return transcript, jsonPath, nil
}

// BuildArgs constructs the whisperx command arguments.
func (s *Service) BuildArgs(source, outputDir, language string) []string {
	args := []string{source, "--model", s.cfg.Model, "--output_dir", outputDir}
	args = append(args, decodeArgs...)
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "--language", lang)
	}
	return append(args, deviceArgs(s.cfg.CUDAEnabled)...)
}

var progressPattern = regexp.MustCompile(`Progress:\s*([0-9]+(?:\.[0-9]+)?)%`)

// ParseProgress extracts a percentage from a "Progress: 42.50%..." line.
func ParseProgress(line string) (float64, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return min(max(value, 0), 100), true
}

// normalizeLanguage reduces "en-US" or "EN" to the two-letter code whisperx
// expects; "auto" and empty mean detection.
func normalizeLanguage(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" || value == "auto" {
		return ""
	}
	if idx := strings.IndexAny(value, "-_"); idx > 0 {
		value = value[:idx]
	}
	if len(value) != 2 {
		return ""
	}
	return value
}

// Word represents a single word with timing from WhisperX output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment represents a transcribed segment from WhisperX JSON output.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Transcript is the parsed WhisperX JSON document.
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments"`
}

// Text joins the non-empty segment texts with single spaces.
func (t Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// Duration is the end time of the last segment in seconds.
func (t Transcript) Duration() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

// LoadTranscript reads a WhisperX JSON file.
func LoadTranscript(jsonPath string) (Transcript, error) {
	data, err := os.ReadFile(jsonPath)
	if err != nil {
		return Transcript{}, err
	}
	var payload Transcript
	if err := json.Unmarshal(data, &payload); err != nil {
		return Transcript{}, fmt.Errorf("parse whisperx json: %w", err)
	}
	return payload, nil
}
