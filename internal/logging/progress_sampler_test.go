package logging

import "testing"

func TestProgressSamplerDefaults(t *testing.T) {
	s := NewProgressSampler(0)
	if s.bucketSize != 10 {
		t.Fatalf("bucketSize = %v, want 10", s.bucketSize)
	}
	var nilSampler *ProgressSampler
	if !nilSampler.ShouldLog(50, "downloading") {
		t.Fatal("nil sampler should always log")
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(10)
	steps := []struct {
		percent float64
		phase   string
		want    bool
	}{
		{0, "downloading", true},
		{4, "downloading", false},
		{9.9, "downloading", false},
		{10, "downloading", true},
		{15, "downloading", false},
		{35, "downloading", true},
		{120, "downloading", true},
		{100, "downloading", false},
		{0, "merging", true},
		{-1, "merging", false},
		{-1, "finalizing", true},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.phase); got != step.want {
			t.Fatalf("step %d (%v, %q): got %v want %v", i, step.percent, step.phase, got, step.want)
		}
	}
}
