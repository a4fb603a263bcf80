// Package whisperx wraps the WhisperX command line for the audio stage.
//
// It builds the ffmpeg arguments that produce a mono 16kHz WAV suitable for
// transcription, builds the whisperx invocation, parses its progress output,
// and loads the JSON transcript it writes. Command execution is injected so
// the caller controls streaming, cancellation and error classification.
package whisperx
