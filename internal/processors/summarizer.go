package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidflow/internal/config"
	"vidflow/internal/language"
	"vidflow/internal/logging"
	"vidflow/internal/pipeline"
	"vidflow/internal/services"
	"vidflow/internal/services/llm"
	"vidflow/internal/stage"
)

const (
	// FileSummary is the structured JSON summary.
	FileSummary = "summary"
	// FileSummaryMarkdown is the rendered markdown summary.
	FileSummaryMarkdown = "summaryMarkdown"
)

const summarySystemPrompt = `You summarize video transcripts.
Respond with JSON only, using this shape:
{"title": string, "summary": string, "keyPoints": [string], "topics": [string]}
Write in the requested language. Do not invent facts that are not in the transcript.`

var styleInstructions = map[string]string{
	"concise":  "Write a summary of at most three short paragraphs and up to five key points.",
	"detailed": "Write a thorough multi-paragraph summary and up to twelve key points.",
	"bullets":  "Keep the summary to one sentence and put the substance in up to ten key points.",
}

// Summary is the document written to summary.json.
type Summary struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	KeyPoints   []string  `json:"keyPoints"`
	Topics      []string  `json:"topics,omitempty"`
	Style       string    `json:"style"`
	Model       string    `json:"model"`
	Truncated   bool      `json:"truncated,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Summarizer produces an AI summary of the transcript.
type Summarizer struct {
	cfg    config.Summary
	client *llm.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewSummarizer constructs the summarization stage processor. llmOpts are
// passed through to the chat client.
func NewSummarizer(cfg config.Summary, logger *slog.Logger, llmOpts ...llm.Option) *Summarizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	client := llm.NewClient(llm.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Referer: cfg.Referer,
		Title:   cfg.Title,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, llmOpts...)
	return &Summarizer{
		cfg:    cfg,
		client: client,
		logger: logging.NewComponentLogger(logger, "summarizer"),
		now:    time.Now,
	}
}

func (s *Summarizer) Stage() pipeline.Stage { return pipeline.StageSummary }

// Run reads the transcript produced by the audio stage and writes
// summary.json and summary.md.
func (s *Summarizer) Run(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Result, error) {
	stageName := s.Stage().String()
	transcriptPath, ok := in.File(FileTranscript)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "prepare", "transcript missing from stage input", nil)
	}
	raw, err := os.ReadFile(transcriptPath)
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "prepare", "read transcript", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "prepare", "transcript is empty", nil)
	}
	logger := logging.WithContext(ctx, s.logger)

	progress.Report(5, "Preparing transcript")
	text, truncated := truncateRunes(text, s.cfg.MaxTranscriptChars)
	style := s.resolveStyle(in.Options.SummaryStyle)
	languageName := "the transcript's language"
	if code := firstNonBlank(in.Options.Language, s.cfg.Language); code != "" {
		languageName = language.DisplayName(code)
	}

	progress.Report(20, "Requesting summary")
	content, err := s.client.CompleteJSON(ctx, summarySystemPrompt, buildUserPrompt(text, style, languageName, truncated))
	if err != nil {
		return stage.Result{}, err
	}
	var doc Summary
	if err := llm.DecodeJSON(content, &doc); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "parse summary", "model returned malformed JSON", err)
	}
	doc.Summary = strings.TrimSpace(doc.Summary)
	if doc.Summary == "" && len(doc.KeyPoints) == 0 {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "parse summary", "model returned an empty summary", nil)
	}
	doc.Style = style
	doc.Model = s.client.Model()
	doc.Truncated = truncated
	doc.GeneratedAt = s.now().UTC()

	progress.Report(90, "Writing summary")
	jsonPath := filepath.Join(in.WorkDir, "summary.json")
	mdPath := filepath.Join(in.WorkDir, "summary.md")
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "write summary", "encode summary", err)
	}
	if err := os.WriteFile(jsonPath, encoded, 0o644); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "write summary", "write summary.json", err)
	}
	if err := os.WriteFile(mdPath, []byte(renderMarkdown(doc)), 0o644); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "write summary", "write summary.md", err)
	}

	progress.Report(100, "Summary complete")
	logger.Info("summary written",
		logging.String("style", style),
		logging.Int("key_points", len(doc.KeyPoints)),
		logging.Bool("truncated", truncated),
	)
	return stage.Succeeded(in, stageName,
		map[string]string{FileSummary: jsonPath, FileSummaryMarkdown: mdPath},
		map[string]any{"title": doc.Title, "style": style, "model": doc.Model},
	), nil
}

func (s *Summarizer) resolveStyle(requested string) string {
	for _, candidate := range []string{requested, s.cfg.Style} {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if _, ok := styleInstructions[candidate]; ok {
			return candidate
		}
	}
	return "concise"
}

// HealthCheck reports whether the LLM is configured. It does not spend a
// request on every status poll.
func (s *Summarizer) HealthCheck(context.Context) stage.Health {
	name := s.Stage().String()
	if !s.client.Configured() {
		return stage.Unhealthy(name, "summary api_key not configured")
	}
	return stage.Health{Name: name, Ready: true, Detail: s.client.Model()}
}

func buildUserPrompt(transcript, style, languageName string, truncated bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Style: %s %s\n", style, styleInstructions[style])
	fmt.Fprintf(&b, "Language: %s\n", languageName)
	if truncated {
		b.WriteString("Note: the transcript was truncated; summarize what is present.\n")
	}
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

func renderMarkdown(doc Summary) string {
	var b strings.Builder
	title := strings.TrimSpace(doc.Title)
	if title == "" {
		title = "Summary"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	if doc.Summary != "" {
		b.WriteString(doc.Summary)
		b.WriteString("\n\n")
	}
	if len(doc.KeyPoints) > 0 {
		b.WriteString("## Key points\n\n")
		for _, point := range doc.KeyPoints {
			if point = strings.TrimSpace(point); point != "" {
				fmt.Fprintf(&b, "- %s\n", point)
			}
		}
		b.WriteString("\n")
	}
	if len(doc.Topics) > 0 {
		fmt.Fprintf(&b, "_Topics: %s_\n", strings.Join(doc.Topics, ", "))
	}
	return b.String()
}

func truncateRunes(text string, limit int) (string, bool) {
	if limit <= 0 {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}
