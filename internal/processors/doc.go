// Package processors implements the concrete stage processors: Downloader
// (yt-dlp), AudioPipeline (ffmpeg, optional vocal separation, WhisperX) and
// Summarizer (chat-completions LLM).
//
// Every processor satisfies stage.Processor, reports stage-local progress
// through the supplied callback, and returns errors tagged with services
// markers so the orchestrator can decide on retries. External commands run
// through an Executor so tests can script tool output without binaries.
package processors
