package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"vidflow/internal/config"
	"vidflow/internal/logging"
	"vidflow/internal/pipeline"
	"vidflow/internal/services"
	"vidflow/internal/stage"
)

const (
	// FileVideo is the downloaded source video.
	FileVideo = "video"
	// FileInfo is the yt-dlp metadata sidecar.
	FileInfo = "info"

	videoBaseName = "original"
)

var downloadRules = []outputRule{
	{"file is larger than max-filesize", services.ErrResourceExceeded, "video exceeds the configured max filesize"},
	{"video unavailable", services.ErrUnsupported, "video unavailable"},
	{"private video", services.ErrUnsupported, "private video"},
	{"sign in to confirm your age", services.ErrUnsupported, "age-restricted video"},
	{"unsupported url", services.ErrUnsupported, "unsupported URL"},
	{"http error 429", services.ErrTransient, "rate limited by the source site"},
	{"timed out", services.ErrTransient, "connection timed out"},
	{"connection reset", services.ErrTransient, "connection reset"},
}

var downloadProgressPattern = regexp.MustCompile(`^\[download\]\s+([0-9]+(?:\.[0-9]+)?)%`)

// Downloader fetches the source video with yt-dlp.
type Downloader struct {
	cfg    config.Download
	exec   Executor
	logger *slog.Logger
}

// DownloaderOption customizes a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadExecutor injects a command executor (primarily for tests).
func WithDownloadExecutor(exec Executor) DownloaderOption {
	return func(d *Downloader) {
		if exec != nil {
			d.exec = exec
		}
	}
}

// NewDownloader constructs the download stage processor.
func NewDownloader(cfg config.Download, logger *slog.Logger, opts ...DownloaderOption) *Downloader {
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Downloader{
		cfg:    cfg,
		exec:   CommandExecutor{},
		logger: logging.NewComponentLogger(logger, "downloader"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Downloader) Stage() pipeline.Stage { return pipeline.StageDownload }

// Run downloads in.URL into in.WorkDir as original.mp4.
func (d *Downloader) Run(ctx context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Result, error) {
	stageName := d.Stage().String()
	if strings.TrimSpace(in.URL) == "" {
		return stage.Result{}, services.Wrap(services.ErrValidation, stageName, "prepare", "source URL missing", nil)
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return stage.Result{}, services.Wrap(services.ErrConfiguration, stageName, "prepare", "create work directory", err)
	}
	logger := logging.WithContext(ctx, d.logger)

	progress.Report(0, "Starting download")
	sampler := logging.NewProgressSampler(25)
	args := d.buildArgs(in)
	err := d.exec.Run(ctx, d.cfg.Binary, args, func(line string) {
		pct, ok := ParseDownloadProgress(line)
		if !ok {
			return
		}
		progress.Report(pct, fmt.Sprintf("Downloading video (%.0f%%)", pct))
		if sampler.ShouldLog(pct, "download") {
			logger.Debug("download progress", logging.Float64("percent", pct))
		}
	})
	if err != nil {
		return stage.Result{}, classifyCommand(stageName, "yt-dlp", err, downloadRules)
	}

	videoPath := filepath.Join(in.WorkDir, videoBaseName+".mp4")
	if _, err := os.Stat(videoPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// yt-dlp exits 0 when --max-filesize skips the download.
			if d.cfg.MaxFilesizeMB > 0 {
				return stage.Result{}, services.Wrap(services.ErrResourceExceeded, stageName, "verify output", "video exceeds the configured max filesize", nil)
			}
			return stage.Result{}, services.Wrap(services.ErrExternalTool, stageName, "verify output", "yt-dlp produced no video file", nil)
		}
		return stage.Result{}, services.Wrap(services.ErrTransient, stageName, "verify output", "stat downloaded video", err)
	}

	files := map[string]string{FileVideo: videoPath}
	metadata := map[string]any{}
	infoPath := filepath.Join(in.WorkDir, videoBaseName+".info.json")
	if info, err := readVideoInfo(infoPath); err == nil {
		files[FileInfo] = infoPath
		metadata["title"] = info.Title
		metadata["durationSeconds"] = info.Duration
		metadata["uploader"] = info.Uploader
	} else if !errors.Is(err, os.ErrNotExist) {
		logger.Warn("video info unreadable", logging.Error(err))
	}

	progress.Report(100, "Download complete")
	logger.Info("download complete", logging.String("path", videoPath))
	return stage.Succeeded(in, stageName, files, metadata), nil
}

func (d *Downloader) buildArgs(in stage.Input) []string {
	args := []string{
		"--newline",
		"--no-playlist",
		"--write-info-json",
		"--merge-output-format", "mp4",
		"--remux-video", "mp4",
		"-o", filepath.Join(in.WorkDir, videoBaseName+".%(ext)s"),
	}
	if format := strings.TrimSpace(d.cfg.Format); format != "" {
		args = append(args, "-f", format)
	}
	if d.cfg.MaxFilesizeMB > 0 {
		args = append(args, "--max-filesize", strconv.Itoa(d.cfg.MaxFilesizeMB)+"M")
	}
	args = append(args, d.cfg.ExtraArgs...)
	return append(args, in.URL)
}

// HealthCheck verifies the yt-dlp binary is available.
func (d *Downloader) HealthCheck(context.Context) stage.Health {
	name := d.Stage().String()
	if detail, ok := binaryHealth(d.cfg.Binary); !ok {
		return stage.Unhealthy(name, detail)
	}
	return stage.Healthy(name)
}

// ParseDownloadProgress extracts the percentage from a yt-dlp --newline
// progress line such as "[download]  42.3% of 10.00MiB at 1.00MiB/s".
func ParseDownloadProgress(line string) (float64, bool) {
	match := downloadProgressPattern.FindStringSubmatch(strings.TrimSpace(line))
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return min(max(value, 0), 100), true
}

type videoInfo struct {
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
	Uploader string  `json:"uploader"`
}

func readVideoInfo(path string) (videoInfo, error) {
	var info videoInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return info, nil
}
