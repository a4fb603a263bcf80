package stage_test

import (
	"testing"

	"vidflow/internal/stage"
)

func TestUnhealthyJoinsReasons(t *testing.T) {
	h := stage.Unhealthy("audio-processing", "ffmpeg not found", "whisperx not found")
	if h.Ready {
		t.Fatal("expected not ready")
	}
	if h.Detail != "ffmpeg not found; whisperx not found" {
		t.Fatalf("unexpected detail %q", h.Detail)
	}
}

func TestAllReady(t *testing.T) {
	tests := []struct {
		name   string
		checks []stage.Health
		want   bool
	}{
		{"empty", nil, false},
		{"all ready", []stage.Health{stage.Healthy("download"), stage.Healthy("summarization")}, true},
		{"one down", []stage.Health{stage.Healthy("download"), stage.Unhealthy("summarization", "no key")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stage.AllReady(tt.checks); got != tt.want {
				t.Fatalf("AllReady = %v, want %v", got, tt.want)
			}
		})
	}
}
