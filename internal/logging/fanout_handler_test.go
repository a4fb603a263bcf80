package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTeeHandlerCollapses(t *testing.T) {
	if _, ok := TeeHandler(nil, nil).(discardHandler); !ok {
		t.Fatal("expected a discarding handler when every handler is nil")
	}
	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if TeeHandler(nil, inner) != inner {
		t.Fatal("expected single handler to be returned unwrapped")
	}
}

func TestTeeHandlerRespectsEachLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := TeeHandler(
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("expected debug enabled through the debug handler")
	}

	logger := slog.New(h).With("task_id", "abc")
	logger.Debug("progress tick")
	logger.Info("stage complete")

	if strings.Contains(infoBuf.String(), "progress tick") {
		t.Fatal("info handler should not receive debug records")
	}
	if !strings.Contains(debugBuf.String(), "progress tick") || !strings.Contains(debugBuf.String(), "stage complete") {
		t.Fatalf("debug handler missing records: %s", debugBuf.String())
	}
	if !strings.Contains(infoBuf.String(), `"task_id":"abc"`) {
		t.Fatalf("expected WithAttrs to propagate: %s", infoBuf.String())
	}
}

func TestTeeHandlerWithGroup(t *testing.T) {
	var a, b bytes.Buffer
	h := TeeHandler(slog.NewJSONHandler(&a, nil), slog.NewJSONHandler(&b, nil))
	slog.New(h).WithGroup("job").Info("claimed", "id", 7)
	for _, out := range []string{a.String(), b.String()} {
		if !strings.Contains(out, `"job":{"id":7}`) {
			t.Fatalf("expected grouped attrs, got %s", out)
		}
	}
}
