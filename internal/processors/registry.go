package processors

import (
	"log/slog"

	"vidflow/internal/config"
	"vidflow/internal/stage"
)

// NewFromConfig builds one processor per pipeline stage.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) []stage.Processor {
	return []stage.Processor{
		NewDownloader(cfg.Download, logger),
		NewAudioPipeline(cfg.Audio, logger),
		NewSummarizer(cfg.Summary, logger),
	}
}
