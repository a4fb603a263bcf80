package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"vidflow/internal/notifications"
)

type capturedRequest struct {
	title    string
	tags     string
	priority string
	body     string
}

func newNtfyServer(t *testing.T) (*httptest.Server, func() []capturedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []capturedRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, capturedRequest{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), requests...)
	}
}

func TestNtfySinkSendsTerminalEventsOnly(t *testing.T) {
	srv, requests := newNtfyServer(t)
	sink := notifications.NewNtfySink(srv.URL, time.Second, true, true)
	ctx := context.Background()

	_ = sink.Publish(ctx, "task-12345678", notifications.EventProgress, notifications.Payload{"progress": 40})
	_ = sink.Publish(ctx, "task-12345678", notifications.EventStageFailed, notifications.Payload{"stage": "download", "retrying": true})
	if err := sink.Publish(ctx, "task-12345678", notifications.EventComplete, notifications.Payload{"url": "https://youtu.be/abc"}); err != nil {
		t.Fatalf("Publish complete: %v", err)
	}
	if err := sink.Publish(ctx, "task-12345678", notifications.EventStageFailed, notifications.Payload{"stage": "summarization", "error": "quota exceeded", "retrying": false}); err != nil {
		t.Fatalf("Publish failure: %v", err)
	}

	got := requests()
	if len(got) != 2 {
		t.Fatalf("expected 2 pushes, got %d: %+v", len(got), got)
	}
	if got[0].title != "vidflow - Complete" || !strings.Contains(got[0].body, "https://youtu.be/abc") || got[0].priority != "high" {
		t.Fatalf("unexpected completion push: %+v", got[0])
	}
	if got[1].title != "vidflow - Failed" || !strings.Contains(got[1].body, "summarization failed") || !strings.Contains(got[1].body, "quota exceeded") {
		t.Fatalf("unexpected failure push: %+v", got[1])
	}
	if got[1].tags != "vidflow,flow,error" {
		t.Fatalf("unexpected tags: %q", got[1].tags)
	}
}

func TestNtfySinkHonoursToggles(t *testing.T) {
	srv, requests := newNtfyServer(t)
	sink := notifications.NewNtfySink(srv.URL, time.Second, false, true)
	_ = sink.Publish(context.Background(), "t", notifications.EventComplete, nil)
	if n := len(requests()); n != 0 {
		t.Fatalf("completions disabled but %d pushes sent", n)
	}
}

func TestNtfySinkReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "topic unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sink := notifications.NewNtfySink(srv.URL, time.Second, true, true)
	err := sink.Publish(context.Background(), "t", notifications.EventComplete, nil)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}
