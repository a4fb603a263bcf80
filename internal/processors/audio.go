package processors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vidflow/internal/config"
	"vidflow/internal/logging"
	"vidflow/internal/pipeline"
	"vidflow/internal/services"
	"vidflow/internal/services/whisperx"
	"vidflow/internal/stage"
)

const (
	// FileAudio is the extracted mono 16kHz WAV.
	FileAudio = "audio"
	// FileVocals is the separated vocal stem.
	FileVocals = "vocals"
	// FileTranscription is the WhisperX JSON transcript.
	FileTranscription = "transcription"
	// FileTranscript is the plain-text transcript.
	FileTranscript = "transcript"

	separatorModel = "htdemucs"
)

// Local progress windows of the audio stage phases.
const (
	extractStart    = 0.0
	extractEnd      = 20.0
	separateEnd     = 45.0
	transcribeStart = separateEnd
)

var (
	ffmpegDurationPattern = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	tqdmPattern           = regexp.MustCompile(`(\d{1,3})%\|`)
)

var audioRules = []outputRule{
	{"does not contain any stream", services.ErrUnsupported, "source has no audio stream"},
	{"stream map '0:a:0' matches no streams", services.ErrUnsupported, "source has no audio stream"},
	{"invalid data found when processing input", services.ErrUnsupported, "source media is unreadable"},
	{"cuda out of memory", services.ErrResourceExceeded, "GPU out of memory"},
	{"no space left on device", services.ErrResourceExceeded, "disk full"},
}

// AudioPipeline extracts audio, optionally isolates vocals, and transcribes.
type AudioPipeline struct {
	cfg     config.Audio
	exec    Executor
	whisper *whisperx.Service
	logger  *slog.Logger
}

// AudioOption customizes an AudioPipeline.
type AudioOption func(*AudioPipeline)

// WithAudioExecutor injects a command executor (primarily for tests).
func WithAudioExecutor(exec Executor) AudioOption {
	return func(p *AudioPipeline) {
		if exec != nil {
			p.exec = exec
		}
	}
}

// NewAudioPipeline constructs the audio-processing stage processor.
func NewAudioPipeline(cfg config.Audio, logger *slog.Logger, opts ...AudioOption) *AudioPipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &AudioPipeline{
		cfg:    cfg,
		exec:   CommandExecutor{Env: []string{"TORCH_FORCE_NO_WEIGHTS_ONLY_LOAD=1"}},
		logger: logging.NewComponentLogger(logger, "audio"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.whisper = whisperx.NewService(whisperx.Config{
		Binary:      cfg.WhisperBinary,
		Model:       cfg.WhisperModel,
		CUDAEnabled: cfg.CUDAEnabled,
	}, p.exec)
	return p
}

func (p *AudioPipeline) Stage() pipeline.Stage { return pipeline.StageAudio }

// Run executes extraction, separation, and transcription in order. Each
// phase is reported as a sub-status so the task status follows along.
func (p *AudioPipeline) Run(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Result, error) {
	stageName := p.Stage().String()
	video, ok := in.File(FileVideo)
	if !ok {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "prepare", "downloaded video missing from stage input", nil)
	}
	if _, err := os.Stat(video); err != nil {
		return stage.Result{}, services.Wrap(services.ErrNotFound, stageName, "prepare", "downloaded video not on disk", err)
	}
	logger := logging.WithContext(ctx, p.logger)

	audioPath := filepath.Join(in.WorkDir, "audio.wav")
	progress.Phase(pipeline.StatusExtracting, extractStart, "Extracting audio")
	duration, err := p.extract(ctx, video, audioPath, progress)
	if err != nil {
		return stage.Result{}, classifyCommand(stageName, "extract audio", err, audioRules)
	}
	files := map[string]string{FileAudio: audioPath}
	metadata := map[string]any{}
	if duration > 0 {
		metadata["audioSeconds"] = duration.Seconds()
	}
	logger.Info("audio extracted", logging.String("path", audioPath), logging.Duration("duration", duration))

	transcribeInput := audioPath
	if p.separationEnabled(in.Options) {
		progress.Phase(pipeline.StatusSeparating, extractEnd, "Separating vocals")
		vocals, err := p.separate(ctx, audioPath, in.WorkDir, progress)
		if err != nil {
			return stage.Result{}, classifyCommand(stageName, "separate vocals", err, audioRules)
		}
		files[FileVocals] = vocals
		transcribeInput = vocals
		logger.Info("vocals separated", logging.String("path", vocals))
	}

	progress.Phase(pipeline.StatusTranscribing, transcribeStart, "Transcribing audio")
	language := firstNonBlank(in.Options.Language, p.cfg.Language)
	sampler := logging.NewProgressSampler(20)
	outputDir := filepath.Join(in.WorkDir, "whisperx")
	transcript, rawPath, err := p.whisper.Transcribe(ctx, transcribeInput, outputDir, language, func(pct float64) {
		progress.Report(scaleInto(pct, transcribeStart, 100), fmt.Sprintf("Transcribing audio (%.0f%%)", pct))
		if sampler.ShouldLog(pct, "transcribe") {
			logger.Debug("transcription progress", logging.Float64("percent", pct))
		}
	})
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return stage.Result{}, classifyCommand(stageName, "transcribe", err, audioRules)
		}
		return stage.Result{}, services.Wrap(services.ErrExternalTool, stageName, "transcribe", "whisperx output unusable", err)
	}

	transcriptionPath := filepath.Join(in.WorkDir, "transcription.json")
	if err := os.Rename(rawPath, transcriptionPath); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "transcribe", "move transcript", err)
	}
	textPath := filepath.Join(in.WorkDir, "transcript.txt")
	text := transcript.Text()
	if err := os.WriteFile(textPath, []byte(text+"\n"), 0o644); err != nil {
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "transcribe", "write transcript text", err)
	}
	files[FileTranscription] = transcriptionPath
	files[FileTranscript] = textPath
	metadata["segments"] = len(transcript.Segments)
	metadata["words"] = len(strings.Fields(text))
	if transcript.Language != "" {
		metadata["language"] = transcript.Language
	}

	progress.Report(100, "Transcription complete")
	logger.Info("transcription complete",
		logging.Int("segments", len(transcript.Segments)),
		logging.String("model", p.whisper.Model()),
	)
	return stage.Succeeded(in, stageName, files, metadata), nil
}

func (p *AudioPipeline) separationEnabled(opts stage.Options) bool {
	return p.cfg.SeparationEnabled && !opts.SkipSeparation
}

// extract runs ffmpeg and maps its out_time_ms progress onto the extraction
// window once the input duration is known.
func (p *AudioPipeline) extract(ctx context.Context, source, dest string, progress stage.ProgressFunc) (time.Duration, error) {
	var total time.Duration
	err := p.exec.Run(ctx, p.cfg.FFmpegBinary, whisperx.ExtractArgs(source, dest), func(line string) {
		if d, ok := parseFFmpegDuration(line); ok && total == 0 {
			total = d
			return
		}
		if total <= 0 {
			return
		}
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found || (key != "out_time_us" && key != "out_time_ms") {
			return
		}
		micros, err := strconv.ParseInt(value, 10, 64)
		if err != nil || micros < 0 {
			return
		}
		frac := float64(time.Duration(micros)*time.Microsecond) / float64(total) * 100
		progress.Report(scaleInto(frac, extractStart, extractEnd), "Extracting audio")
	})
	return total, err
}

// separate isolates the vocal stem with demucs and moves it to vocals.wav.
func (p *AudioPipeline) separate(ctx context.Context, audioPath, workDir string, progress stage.ProgressFunc) (string, error) {
	outRoot := filepath.Join(workDir, "separated")
	args := []string{
		"--two-stems=vocals",
		"-n", separatorModel,
		"-o", outRoot,
	}
	if !p.cfg.CUDAEnabled {
		args = append(args, "-d", "cpu")
	}
	args = append(args, audioPath)
	err := p.exec.Run(ctx, p.cfg.SeparatorBinary, args, func(line string) {
		match := tqdmPattern.FindStringSubmatch(line)
		if match == nil {
			return
		}
		if pct, err := strconv.Atoi(match[1]); err == nil {
			progress.Report(scaleInto(float64(pct), extractEnd, separateEnd), "Separating vocals")
		}
	})
	if err != nil {
		return "", err
	}
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	produced := filepath.Join(outRoot, separatorModel, stem, "vocals.wav")
	dest := filepath.Join(workDir, "vocals.wav")
	if err := os.Rename(produced, dest); err != nil {
		return "", &CommandError{Binary: p.cfg.SeparatorBinary, Tail: []string{"vocal stem missing: " + err.Error()}, Err: err}
	}
	return dest, nil
}

// HealthCheck verifies every binary the enabled phases need.
func (p *AudioPipeline) HealthCheck(context.Context) stage.Health {
	name := p.Stage().String()
	binaries := []string{p.cfg.FFmpegBinary, p.whisper.Binary()}
	if p.cfg.SeparationEnabled {
		binaries = append(binaries, p.cfg.SeparatorBinary)
	}
	var missing []string
	for _, binary := range binaries {
		if detail, ok := binaryHealth(binary); !ok {
			missing = append(missing, detail)
		}
	}
	if len(missing) > 0 {
		return stage.Unhealthy(name, missing...)
	}
	return stage.Healthy(name)
}

func parseFFmpegDuration(line string) (time.Duration, bool) {
	match := ffmpegDurationPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	seconds, _ := strconv.ParseFloat(match[3], 64)
	total := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute + time.Duration(seconds*float64(time.Second))
	return total, total > 0
}

// scaleInto maps pct (0..100) onto [lo, hi].
func scaleInto(pct, lo, hi float64) float64 {
	pct = min(max(pct, 0), 100)
	return lo + pct*(hi-lo)/100
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
