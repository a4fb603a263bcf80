package processors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"vidflow/internal/config"
	"vidflow/internal/pipeline"
	"vidflow/internal/services"
	"vidflow/internal/services/llm"
	"vidflow/internal/stage"
)

type scriptStep struct {
	lines []string
	files map[string]string
	err   error
}

// scriptedExecutor replays canned output per binary and records invocations.
type scriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string]scriptStep
	calls   [][]string
}

func (e *scriptedExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string{binary}, args...))
	step := e.scripts[binary]
	e.mu.Unlock()
	for _, line := range step.lines {
		onLine(line)
	}
	for path, content := range step.files {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	if step.err != nil {
		return step.err
	}
	return ctx.Err()
}

func (e *scriptedExecutor) argsFor(binary string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, call := range e.calls {
		if call[0] == binary {
			return call[1:]
		}
	}
	return nil
}

type progressLog struct {
	mu      sync.Mutex
	updates []stage.Update
}

func (p *progressLog) fn() stage.ProgressFunc {
	return func(u stage.Update) {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.updates = append(p.updates, u)
	}
}

func (p *progressLog) phases() []pipeline.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []pipeline.Status
	for _, u := range p.updates {
		if u.Phase != "" {
			out = append(out, u.Phase)
		}
	}
	return out
}

func (p *progressLog) last() stage.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updates[len(p.updates)-1]
}

func TestDownloaderRunProducesVideo(t *testing.T) {
	work := t.TempDir()
	exec := &scriptedExecutor{scripts: map[string]scriptStep{
		"yt-dlp": {
			lines: []string{
				"[youtube] abc: Downloading webpage",
				"[download]   5.0% of 10.00MiB at 1.00MiB/s ETA 00:09",
				"[download]  55.5% of 10.00MiB at 1.00MiB/s ETA 00:04",
				"[download] 100% of 10.00MiB in 00:10",
			},
			files: map[string]string{
				filepath.Join(work, "original.mp4"):       "video",
				filepath.Join(work, "original.info.json"): `{"title":"Demo","duration":61.5,"uploader":"someone"}`,
			},
		},
	}}
	cfg := config.Default().Download
	cfg.MaxFilesizeMB = 500
	d := NewDownloader(cfg, nil, WithDownloadExecutor(exec))

	var progress progressLog
	res, err := d.Run(context.Background(), stage.Input{TaskID: "t1", URL: "https://youtu.be/dQw4w9WgXcQ", WorkDir: work}, progress.fn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.Stage != "download" {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Files[FileVideo] != filepath.Join(work, "original.mp4") {
		t.Fatalf("unexpected video path %q", res.Files[FileVideo])
	}
	if res.Metadata["title"] != "Demo" {
		t.Fatalf("expected title metadata, got %v", res.Metadata)
	}
	if got := progress.last(); got.Percent != 100 {
		t.Fatalf("expected final progress 100, got %v", got.Percent)
	}
	args := exec.argsFor("yt-dlp")
	if !slices.Contains(args, "--newline") || args[len(args)-1] != "https://youtu.be/dQw4w9WgXcQ" {
		t.Fatalf("unexpected args %v", args)
	}
	if i := slices.Index(args, "--max-filesize"); i < 0 || args[i+1] != "500M" {
		t.Fatalf("expected max filesize flag in %v", args)
	}
}

func TestDownloaderClassifiesFailures(t *testing.T) {
	cases := []struct {
		name   string
		output string
		marker error
	}{
		{"unavailable", "ERROR: [youtube] abc: Video unavailable", services.ErrUnsupported},
		{"rateLimited", "ERROR: unable to download webpage: HTTP Error 429: Too Many Requests", services.ErrTransient},
		{"other", "ERROR: something odd", services.ErrExternalTool},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := &scriptedExecutor{scripts: map[string]scriptStep{
				"yt-dlp": {err: &CommandError{Binary: "yt-dlp", ExitCode: 1, Tail: []string{tc.output}}},
			}}
			d := NewDownloader(config.Default().Download, nil, WithDownloadExecutor(exec))
			_, err := d.Run(context.Background(), stage.Input{TaskID: "t1", URL: "https://vimeo.com/1", WorkDir: t.TempDir()}, nil)
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v, got %v", tc.marker, err)
			}
		})
	}
}

func TestDownloaderMaxFilesizeSkip(t *testing.T) {
	exec := &scriptedExecutor{scripts: map[string]scriptStep{"yt-dlp": {}}}
	cfg := config.Default().Download
	cfg.MaxFilesizeMB = 1
	d := NewDownloader(cfg, nil, WithDownloadExecutor(exec))
	_, err := d.Run(context.Background(), stage.Input{TaskID: "t1", URL: "https://vimeo.com/1", WorkDir: t.TempDir()}, nil)
	if !errors.Is(err, services.ErrResourceExceeded) {
		t.Fatalf("expected resource exceeded, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("oversized downloads must not be retried")
	}
}

func TestDownloaderTimeoutClassification(t *testing.T) {
	exec := &scriptedExecutor{scripts: map[string]scriptStep{"yt-dlp": {err: context.DeadlineExceeded}}}
	d := NewDownloader(config.Default().Download, nil, WithDownloadExecutor(exec))
	_, err := d.Run(context.Background(), stage.Input{TaskID: "t1", URL: "https://vimeo.com/1", WorkDir: t.TempDir()}, nil)
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestParseDownloadProgress(t *testing.T) {
	if pct, ok := ParseDownloadProgress("[download]  42.3% of ~ 10.00MiB"); !ok || pct != 42.3 {
		t.Fatalf("unexpected parse %v %v", pct, ok)
	}
	if _, ok := ParseDownloadProgress("[info] Writing video metadata"); ok {
		t.Fatal("expected no progress")
	}
}

func audioFixture(t *testing.T, separation bool) (string, *scriptedExecutor, stage.Input) {
	t.Helper()
	work := t.TempDir()
	video := filepath.Join(work, "original.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	transcribeSource := "audio"
	if separation {
		transcribeSource = "vocals"
	}
	exec := &scriptedExecutor{scripts: map[string]scriptStep{
		"ffmpeg": {
			lines: []string{"  Duration: 00:01:40.00, start: 0.000000", "out_time_us=50000000", "progress=end"},
			files: map[string]string{filepath.Join(work, "audio.wav"): "wav"},
		},
		"demucs": {
			lines: []string{" 50%|#####     | 5/10", "100%|##########| 10/10"},
			files: map[string]string{filepath.Join(work, "separated", "htdemucs", "audio", "vocals.wav"): "vocals"},
		},
		"whisperx": {
			lines: []string{"Progress: 50.00%..."},
			files: map[string]string{
				filepath.Join(work, "whisperx", transcribeSource+".json"): `{"language":"en","segments":[{"text":"Hello there","start":0,"end":2}]}`,
			},
		},
	}}
	in := stage.Input{
		TaskID:   "t1",
		WorkDir:  work,
		Previous: &stage.Result{Files: map[string]string{FileVideo: video}},
	}
	return work, exec, in
}

func TestAudioPipelineRunsAllPhases(t *testing.T) {
	work, exec, in := audioFixture(t, true)
	p := NewAudioPipeline(config.Default().Audio, nil, WithAudioExecutor(exec))

	var progress progressLog
	res, err := p.Run(context.Background(), in, progress.fn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	wantPhases := []pipeline.Status{pipeline.StatusExtracting, pipeline.StatusSeparating, pipeline.StatusTranscribing}
	if got := progress.phases(); !slices.Equal(got, wantPhases) {
		t.Fatalf("phases = %v, want %v", got, wantPhases)
	}
	for _, key := range []string{FileVideo, FileAudio, FileVocals, FileTranscription, FileTranscript} {
		if res.Files[key] == "" {
			t.Fatalf("missing file %q in %v", key, res.Files)
		}
	}
	text, err := os.ReadFile(filepath.Join(work, "transcript.txt"))
	if err != nil || strings.TrimSpace(string(text)) != "Hello there" {
		t.Fatalf("unexpected transcript %q (%v)", text, err)
	}
	if args := exec.argsFor("whisperx"); args[0] != filepath.Join(work, "vocals.wav") {
		t.Fatalf("expected transcription of vocals, got %v", args)
	}
	var prev float64
	for _, u := range progress.updates {
		if u.Percent < prev {
			t.Fatalf("local progress went backwards: %v after %v", u.Percent, prev)
		}
		prev = u.Percent
	}
}

func TestAudioPipelineSkipSeparation(t *testing.T) {
	work, exec, in := audioFixture(t, false)
	in.Options.SkipSeparation = true
	p := NewAudioPipeline(config.Default().Audio, nil, WithAudioExecutor(exec))

	var progress progressLog
	res, err := p.Run(context.Background(), in, progress.fn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := res.Files[FileVocals]; ok {
		t.Fatal("vocals should be absent when separation is skipped")
	}
	if exec.argsFor("demucs") != nil {
		t.Fatal("separator should not run")
	}
	if args := exec.argsFor("whisperx"); args[0] != filepath.Join(work, "audio.wav") {
		t.Fatalf("expected transcription of extracted audio, got %v", args)
	}
	if slices.Contains(progress.phases(), pipeline.StatusSeparating) {
		t.Fatal("separating phase should not be reported")
	}
}

func TestAudioPipelineMissingVideo(t *testing.T) {
	p := NewAudioPipeline(config.Default().Audio, nil, WithAudioExecutor(&scriptedExecutor{}))
	_, err := p.Run(context.Background(), stage.Input{TaskID: "t1", WorkDir: t.TempDir()}, nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAudioPipelineNoAudioStream(t *testing.T) {
	_, exec, in := audioFixture(t, false)
	exec.scripts["ffmpeg"] = scriptStep{err: &CommandError{
		Binary: "ffmpeg", ExitCode: 1,
		Tail: []string{"Stream map '0:a:0' matches no streams."},
	}}
	p := NewAudioPipeline(config.Default().Audio, nil, WithAudioExecutor(exec))
	_, err := p.Run(context.Background(), in, nil)
	if !errors.Is(err, services.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}
}

func newSummaryServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func summaryInput(t *testing.T, transcript string) stage.Input {
	t.Helper()
	work := t.TempDir()
	path := filepath.Join(work, "transcript.txt")
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		t.Fatal(err)
	}
	return stage.Input{
		TaskID:   "t1",
		WorkDir:  work,
		Options:  stage.Options{SummaryStyle: "bullets"},
		Previous: &stage.Result{Files: map[string]string{FileTranscript: path, FileVideo: "/tmp/v.mp4"}},
	}
}

func TestSummarizerWritesSummary(t *testing.T) {
	server := newSummaryServer(t, "```json\n{\"title\":\"Demo\",\"summary\":\"Short.\",\"keyPoints\":[\"one\",\"two\"]}\n```")
	cfg := config.Default().Summary
	cfg.APIKey = "test"
	cfg.BaseURL = server.URL
	s := NewSummarizer(cfg, nil, llm.WithRetryBackoff(0, 0))
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	in := summaryInput(t, "hello world")
	res, err := s.Run(context.Background(), in, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Files[FileVideo] == "" {
		t.Fatal("earlier files should carry forward")
	}
	data, err := os.ReadFile(res.Files[FileSummary])
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var doc Summary
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if doc.Title != "Demo" || doc.Style != "bullets" || len(doc.KeyPoints) != 2 {
		t.Fatalf("unexpected summary %+v", doc)
	}
	md, _ := os.ReadFile(res.Files[FileSummaryMarkdown])
	if !strings.HasPrefix(string(md), "# Demo") || !strings.Contains(string(md), "- two") {
		t.Fatalf("unexpected markdown %q", md)
	}
}

func TestSummarizerRejectsEmptyTranscript(t *testing.T) {
	cfg := config.Default().Summary
	cfg.APIKey = "test"
	s := NewSummarizer(cfg, nil)
	_, err := s.Run(context.Background(), summaryInput(t, "   \n"), nil)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSummarizerMalformedResponseIsTransient(t *testing.T) {
	server := newSummaryServer(t, "not json at all")
	cfg := config.Default().Summary
	cfg.APIKey = "test"
	cfg.BaseURL = server.URL
	s := NewSummarizer(cfg, nil)
	_, err := s.Run(context.Background(), summaryInput(t, "hello"), nil)
	if !errors.Is(err, services.ErrTransient) || !services.Retryable(err) {
		t.Fatalf("expected retryable transient error, got %v", err)
	}
}

func TestSummarizerHealthCheck(t *testing.T) {
	cfg := config.Default().Summary
	if h := NewSummarizer(cfg, nil).HealthCheck(context.Background()); h.Ready {
		t.Fatal("summarizer without api key should be unhealthy")
	}
	cfg.APIKey = "k"
	if h := NewSummarizer(cfg, nil).HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected ready, got %+v", h)
	}
}

func TestTruncateRunes(t *testing.T) {
	out, truncated := truncateRunes("héllo", 2)
	if out != "hé" || !truncated {
		t.Fatalf("unexpected truncate %q %v", out, truncated)
	}
	if _, truncated := truncateRunes("abc", 0); truncated {
		t.Fatal("limit 0 disables truncation")
	}
}

func TestCommandExecutorStreamsLines(t *testing.T) {
	var lines []string
	err := CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "printf 'a\\rb\\nc\\n'; echo err >&2"}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{"a", "b", "c", "err"} {
		if !slices.Contains(lines, want) {
			t.Fatalf("missing line %q in %v", want, lines)
		}
	}
}

func TestCommandExecutorExitError(t *testing.T) {
	err := CommandExecutor{}.Run(context.Background(), "sh", []string{"-c", "echo 'ERROR: boom' >&2; exit 3"}, nil)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cmdErr.ExitCode != 3 || !strings.Contains(cmdErr.Error(), "ERROR: boom") {
		t.Fatalf("unexpected error %v", cmdErr)
	}
	missing := CommandExecutor{}.Run(context.Background(), "vidflow-definitely-missing", nil, nil)
	if !errors.Is(classifyCommand("download", "run", missing, nil), services.ErrConfiguration) {
		t.Fatalf("missing binary should be a configuration error: %v", missing)
	}
}

func TestBuildUserPromptNamesLanguage(t *testing.T) {
	prompt := buildUserPrompt("transcript", "bullets", "Japanese", true)
	if !strings.Contains(prompt, "Language: Japanese") {
		t.Fatalf("expected language line, got %q", prompt)
	}
}
