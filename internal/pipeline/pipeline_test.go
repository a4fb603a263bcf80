package pipeline_test

import (
	"testing"

	"vidflow/internal/pipeline"
)

func TestStageOrder(t *testing.T) {
	if first := pipeline.First(); first != pipeline.StageDownload {
		t.Fatalf("first stage = %s", first)
	}
	next, ok := pipeline.Next(pipeline.StageDownload)
	if !ok || next != pipeline.StageAudio {
		t.Fatalf("after download = %s %v", next, ok)
	}
	next, ok = pipeline.Next(pipeline.StageAudio)
	if !ok || next != pipeline.StageSummary {
		t.Fatalf("after audio = %s %v", next, ok)
	}
	if _, ok := pipeline.Next(pipeline.StageSummary); ok {
		t.Fatal("summarization must be the final stage")
	}
}

func TestWeightsCoverFullRange(t *testing.T) {
	defs := pipeline.Definitions()
	expectedBase := 0
	for _, def := range defs {
		if def.BaseWeight != expectedBase {
			t.Fatalf("%s base = %d, want %d", def.Stage, def.BaseWeight, expectedBase)
		}
		expectedBase = def.End()
	}
	if expectedBase != 100 {
		t.Fatalf("weights end at %d, want 100", expectedBase)
	}
}

func TestOverallClampsLocalProgress(t *testing.T) {
	audio := pipeline.MustLookup(pipeline.StageAudio)
	tests := []struct {
		local float64
		want  int
	}{
		{-5, 25},
		{0, 25},
		{50, 55},
		{100, 85},
		{250, 85},
	}
	for _, tt := range tests {
		if got := audio.Overall(tt.local); got != tt.want {
			t.Fatalf("Overall(%v) = %d, want %d", tt.local, got, tt.want)
		}
	}
}

func TestStageForStatus(t *testing.T) {
	tests := map[pipeline.Status]pipeline.Stage{
		pipeline.StatusDownloading:  pipeline.StageDownload,
		pipeline.StatusExtracting:   pipeline.StageAudio,
		pipeline.StatusSeparating:   pipeline.StageAudio,
		pipeline.StatusTranscribing: pipeline.StageAudio,
		pipeline.StatusSummarizing:  pipeline.StageSummary,
	}
	for status, want := range tests {
		got, ok := pipeline.StageForStatus(status)
		if !ok || got != want {
			t.Fatalf("StageForStatus(%s) = %s %v, want %s", status, got, ok, want)
		}
	}
	for _, status := range []pipeline.Status{pipeline.StatusPending, pipeline.StatusCompleted, pipeline.StatusFailed} {
		if _, ok := pipeline.StageForStatus(status); ok {
			t.Fatalf("status %s must not map to a stage", status)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to pipeline.Status
		want     bool
	}{
		{pipeline.StatusPending, pipeline.StatusDownloading, true},
		{pipeline.StatusDownloading, pipeline.StatusExtracting, true},
		{pipeline.StatusExtracting, pipeline.StatusTranscribing, true},
		{pipeline.StatusTranscribing, pipeline.StatusSeparating, false},
		{pipeline.StatusSummarizing, pipeline.StatusCompleted, true},
		{pipeline.StatusSummarizing, pipeline.StatusDownloading, false},
		{pipeline.StatusExtracting, pipeline.StatusPending, true},
		{pipeline.StatusExtracting, pipeline.StatusFailed, true},
		{pipeline.StatusFailed, pipeline.StatusPending, true},
		{pipeline.StatusFailed, pipeline.StatusDownloading, false},
		{pipeline.StatusCompleted, pipeline.StatusPending, false},
		{pipeline.StatusCompleted, pipeline.StatusCompleted, false},
		{pipeline.StatusDownloading, pipeline.StatusDownloading, true},
		{pipeline.Status("bogus"), pipeline.StatusPending, false},
	}
	for _, tt := range tests {
		if got := pipeline.CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStageAcceptsQueueIdentity(t *testing.T) {
	for _, value := range []string{"audio", "audio-processing", " AUDIO "} {
		stage, err := pipeline.ParseStage(value)
		if err != nil || stage != pipeline.StageAudio {
			t.Fatalf("ParseStage(%q) = %s, %v", value, stage, err)
		}
	}
	if _, err := pipeline.ParseStage("encode"); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestLabel(t *testing.T) {
	if label := pipeline.StageAudio.Label(); label != "Audio Processing" {
		t.Fatalf("label = %q", label)
	}
}

func TestEstimatedDuration(t *testing.T) {
	if pipeline.EstimatedDuration() <= 0 {
		t.Fatal("expected positive estimate")
	}
}

func TestPrevious(t *testing.T) {
	prev, ok := pipeline.Previous(pipeline.StageSummary)
	if !ok || prev != pipeline.StageAudio {
		t.Fatalf("before summarization = %s %v", prev, ok)
	}
	if _, ok := pipeline.Previous(pipeline.StageDownload); ok {
		t.Fatal("download has no previous stage")
	}
}
