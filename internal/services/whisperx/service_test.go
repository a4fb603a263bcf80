package whisperx

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

type scriptedRunner struct {
	lines  []string
	output string
	calls  [][]string
}

func (r *scriptedRunner) Run(_ context.Context, binary string, args []string, onLine func(string)) error {
	r.calls = append(r.calls, append([]string{binary}, args...))
	for _, line := range r.lines {
		onLine(line)
	}
	outDir := args[slices.Index(args, "--output_dir")+1]
	base := filepath.Base(args[0])
	base = base[:len(base)-len(filepath.Ext(base))]
	return os.WriteFile(filepath.Join(outDir, base+".json"), []byte(r.output), 0o644)
}

func TestTranscribeParsesProgressAndOutput(t *testing.T) {
	dir := t.TempDir()
	runner := &scriptedRunner{
		lines:  []string{"loading model", "Progress: 12.50%...", "Progress: 100.00%..."},
		output: `{"language":"en","segments":[{"text":" Hello ","start":0,"end":1.5},{"text":"world","start":1.5,"end":3}]}`,
	}
	svc := NewService(Config{Model: "tiny"}, runner)

	var seen []float64
	transcript, path, err := svc.Transcribe(context.Background(), filepath.Join(dir, "vocals.wav"), filepath.Join(dir, "out"), "en-US", func(p float64) {
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if path != filepath.Join(dir, "out", "vocals.json") {
		t.Fatalf("unexpected json path %q", path)
	}
	if got := transcript.Text(); got != "Hello world" {
		t.Fatalf("unexpected text %q", got)
	}
	if transcript.Language != "en" || transcript.Duration() != 3 {
		t.Fatalf("unexpected transcript %+v", transcript)
	}
	if !slices.Equal(seen, []float64{12.5, 100}) {
		t.Fatalf("unexpected progress %v", seen)
	}
	args := runner.calls[0]
	if args[0] != DefaultBinary {
		t.Fatalf("expected default binary, got %q", args[0])
	}
	if i := slices.Index(args, "--language"); i < 0 || args[i+1] != "en" {
		t.Fatalf("expected --language en in %v", args)
	}
	if !slices.Contains(args, "float32") {
		t.Fatalf("expected cpu compute type in %v", args)
	}
}

func TestBuildArgsCUDAAndAutoLanguage(t *testing.T) {
	svc := NewService(Config{CUDAEnabled: true}, nil)
	args := svc.BuildArgs("in.wav", "/tmp/out", "auto")
	if slices.Contains(args, "--language") {
		t.Fatalf("auto language should be omitted: %v", args)
	}
	if i := slices.Index(args, "--device"); i < 0 || args[i+1] != "cuda" {
		t.Fatalf("expected cuda device in %v", args)
	}
	if i := slices.Index(args, "--model"); args[i+1] != DefaultModel {
		t.Fatalf("expected default model in %v", args)
	}
}

func TestParseProgress(t *testing.T) {
	cases := map[string]float64{
		"Progress: 42.50%...": 42.5,
		"Progress: 7%":        7,
	}
	for line, want := range cases {
		got, ok := ParseProgress(line)
		if !ok || got != want {
			t.Fatalf("ParseProgress(%q) = %v, %v", line, got, ok)
		}
	}
	if _, ok := ParseProgress("Performing alignment"); ok {
		t.Fatal("expected no match")
	}
}
