// Package language normalizes transcription language codes.
//
// Flow submissions and configuration accept ISO 639-1 or 639-2 codes and
// English language names; whisperx expects ISO 639-1, and summaries name the
// language in prose.
package language
