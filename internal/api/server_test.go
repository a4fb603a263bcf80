package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vidflow/internal/config"
	"vidflow/internal/daemon"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/services"
	"vidflow/internal/stage"
	"vidflow/internal/workflow"
)

type backendStub struct {
	flows     map[string]*manifest.Manifest
	live      map[string]*workflow.FlowProgress
	createErr error
	retryErr  error
	removed   []string
	lastURL   string
	lastOpts  stage.Options
	running   bool
}

func newBackendStub() *backendStub {
	return &backendStub{
		flows:   map[string]*manifest.Manifest{},
		live:    map[string]*workflow.FlowProgress{},
		running: true,
	}
}

func (b *backendStub) CreateFlow(_ context.Context, url string, opts stage.Options) (workflow.FlowTicket, error) {
	b.lastURL, b.lastOpts = url, opts
	if b.createErr != nil {
		return workflow.FlowTicket{}, b.createErr
	}
	b.flows["task-new"] = manifest.New("task-new", time.Now())
	return workflow.FlowTicket{TaskID: "task-new", EstimatedDuration: 90 * time.Second}, nil
}

func (b *backendStub) GetFlow(_ context.Context, taskID string) (workflow.FlowView, error) {
	m, ok := b.flows[taskID]
	if !ok {
		return workflow.FlowView{}, manifest.ErrNotFound
	}
	return workflow.FlowView{Manifest: m, Live: b.live[taskID]}, nil
}

func (b *backendStub) ListFlows(context.Context) ([]workflow.FlowView, error) {
	var out []workflow.FlowView
	for _, id := range []string{"task-a", "task-b", "task-new"} {
		if m, ok := b.flows[id]; ok {
			out = append(out, workflow.FlowView{Manifest: m, Live: b.live[id]})
		}
	}
	return out, nil
}

func (b *backendStub) RemoveTask(_ context.Context, taskID string) error {
	if _, ok := b.flows[taskID]; !ok {
		return manifest.ErrNotFound
	}
	delete(b.flows, taskID)
	b.removed = append(b.removed, taskID)
	return nil
}

func (b *backendStub) RetryTask(_ context.Context, taskID string) (*manifest.Manifest, error) {
	if b.retryErr != nil {
		return nil, b.retryErr
	}
	m, ok := b.flows[taskID]
	if !ok {
		return nil, manifest.ErrNotFound
	}
	m.ResetForRetry("Retry queued")
	return m, nil
}

func (b *backendStub) Status(context.Context) daemon.Status {
	return daemon.Status{
		Running: b.running,
		PID:     42,
		Workflow: workflow.StatusSummary{
			Running:            b.running,
			ActiveFlows:        1,
			MaxConcurrentFlows: 3,
			Workers:            2,
			StageHealth:        []stage.Health{stage.Healthy("download")},
		},
	}
}

func newTestServer(t *testing.T, backend Backend, hub *notifications.Hub, token string) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.API.Token = token
	cfg.API.SSEKeepaliveSeconds = 1
	srv, err := NewServer(&cfg, backend, hub, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.cancel)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := srv.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestCreateFlowAccepted(t *testing.T) {
	backend := newBackendStub()
	srv := newTestServer(t, backend, notifications.NewHub(16), "")

	resp := doRequest(t, srv, http.MethodPost, "/api/flows",
		`{"url":"https://youtu.be/dQw4w9WgXcQ","priority":"high","summaryStyle":"bullets","skipSeparation":true}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/api/flows/task-new" {
		t.Fatalf("location = %q", loc)
	}
	got := decode[CreateFlowResponse](t, resp)
	if got.TaskID != "task-new" || got.EstimatedDurationSeconds != 90 {
		t.Fatalf("response = %+v", got)
	}
	if backend.lastURL != "https://youtu.be/dQw4w9WgXcQ" || backend.lastOpts.Priority != "high" || !backend.lastOpts.SkipSeparation {
		t.Fatalf("backend saw url=%q opts=%+v", backend.lastURL, backend.lastOpts)
	}
}

func TestCreateFlowErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"capacity", fmt.Errorf("admit: %w", workflow.ErrCapacityExceeded), http.StatusTooManyRequests, "capacity_exceeded"},
		{"validation", services.Wrap(services.ErrValidation, "", "validate url", "Invalid YouTube URL", nil), http.StatusUnprocessableEntity, "validation"},
		{"unsupported", services.Wrap(services.ErrUnsupported, "", "validate url", "host not supported", nil), http.StatusUnprocessableEntity, "unsupported"},
		{"stopped", daemon.ErrNotRunning, http.StatusServiceUnavailable, "not_running"},
		{"internal", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newBackendStub()
			backend.createErr = tt.err
			srv := newTestServer(t, backend, notifications.NewHub(16), "")
			resp := doRequest(t, srv, http.MethodPost, "/api/flows", `{"url":"x"}`, nil)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			body := decode[ErrorResponse](t, resp)
			if body.Kind != tt.kind || body.Error == "" {
				t.Fatalf("body = %+v", body)
			}
		})
	}
}

func TestCreateFlowRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(t, newBackendStub(), notifications.NewHub(16), "")
	resp := doRequest(t, srv, http.MethodPost, "/api/flows", `{"url":`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestBearerAuth(t *testing.T) {
	srv := newTestServer(t, newBackendStub(), notifications.NewHub(16), "s3cret")

	if resp := doRequest(t, srv, http.MethodGet, "/api/flows", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", resp.StatusCode)
	}
	if resp := doRequest(t, srv, http.MethodGet, "/api/flows", "", map[string]string{"Authorization": "Bearer nope"}); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", resp.StatusCode)
	}
	if resp := doRequest(t, srv, http.MethodGet, "/api/flows", "", map[string]string{"Authorization": "Bearer s3cret"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: %d", resp.StatusCode)
	}
	if resp := doRequest(t, srv, http.MethodGet, "/health", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("health must not require auth: %d", resp.StatusCode)
	}
}

func TestHealthReportsStopped(t *testing.T) {
	backend := newBackendStub()
	backend.running = false
	srv := newTestServer(t, backend, notifications.NewHub(16), "")
	if resp := doRequest(t, srv, http.MethodGet, "/health", "", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestListAndGetFlows(t *testing.T) {
	backend := newBackendStub()
	now := time.Now()
	a := manifest.New("task-a", now)
	b := manifest.New("task-b", now)
	b.Finish(pipeline.StatusFailed, "boom", now)
	backend.flows["task-a"] = a
	backend.flows["task-b"] = b
	backend.live["task-a"] = &workflow.FlowProgress{
		TaskID:          "task-a",
		Status:          pipeline.StatusSeparating,
		CurrentStage:    "audio-processing",
		OverallProgress: 49,
		StageProgress:   40,
		Step:            "Separating vocals",
	}
	srv := newTestServer(t, backend, notifications.NewHub(16), "")

	list := decode[FlowListResponse](t, doRequest(t, srv, http.MethodGet, "/api/flows", "", nil))
	if len(list.Items) != 2 {
		t.Fatalf("items = %+v", list.Items)
	}
	failed := decode[FlowListResponse](t, doRequest(t, srv, http.MethodGet, "/api/flows?status=failed", "", nil))
	if len(failed.Items) != 1 || failed.Items[0].TaskID != "task-b" || failed.Items[0].Error != "boom" {
		t.Fatalf("filtered = %+v", failed.Items)
	}

	one := decode[FlowResponse](t, doRequest(t, srv, http.MethodGet, "/api/flows/task-a", "", nil))
	if !one.Item.Live || one.Item.Status != "separating" || one.Item.Progress != 49 || one.Item.CurrentStep != "Separating vocals" {
		t.Fatalf("flow = %+v", one.Item)
	}

	if resp := doRequest(t, srv, http.MethodGet, "/api/flows/task-zzz", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing flow: %d", resp.StatusCode)
	}
	if resp := doRequest(t, srv, http.MethodGet, "/api/flows/bad.id", "", nil); resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid id: %d", resp.StatusCode)
	}
}

func TestRemoveFlow(t *testing.T) {
	backend := newBackendStub()
	backend.flows["task-a"] = manifest.New("task-a", time.Now())
	srv := newTestServer(t, backend, notifications.NewHub(16), "")

	if resp := doRequest(t, srv, http.MethodDelete, "/api/flows/task-a", "", nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(backend.removed) != 1 {
		t.Fatalf("removed = %v", backend.removed)
	}
	if resp := doRequest(t, srv, http.MethodDelete, "/api/flows/task-a", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: %d", resp.StatusCode)
	}
}

func TestRetryFlow(t *testing.T) {
	backend := newBackendStub()
	m := manifest.New("task-a", time.Now())
	m.Finish(pipeline.StatusFailed, "boom", time.Now())
	backend.flows["task-a"] = m
	srv := newTestServer(t, backend, notifications.NewHub(16), "")

	resp := doRequest(t, srv, http.MethodPost, "/api/flows/task-a/retry", "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[FlowResponse](t, resp)
	if got.Item.Status != "pending" || got.Item.Error != "" {
		t.Fatalf("flow = %+v", got.Item)
	}

	backend.retryErr = fmt.Errorf("%w: status is completed", workflow.ErrNotRetryable)
	if resp := doRequest(t, srv, http.MethodPost, "/api/flows/task-a/retry", "", nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("not retryable: %d", resp.StatusCode)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, newBackendStub(), notifications.NewHub(16), "")
	got := decode[DaemonStatus](t, doRequest(t, srv, http.MethodGet, "/api/status", "", nil))
	if !got.Running || got.PID != 42 || got.Workflow.MaxConcurrentFlows != 3 || len(got.Workflow.StageHealth) != 1 {
		t.Fatalf("status = %+v", got)
	}
	if _, ok := got.Workflow.QueueStats["queued"]; !ok {
		t.Fatalf("queue stats = %v", got.Workflow.QueueStats)
	}
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	srv := newTestServer(t, newBackendStub(), notifications.NewHub(16), "")
	resp := doRequest(t, srv, http.MethodGet, "/api/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body := decode[ErrorResponse](t, resp); body.Error == "" {
		t.Fatal("expected error message")
	}
}

type sseFrame struct {
	id    string
	event string
	data  string
}

func readFrames(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		case strings.HasPrefix(line, "id: "):
			cur.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		}
	}
	return frames
}

func TestEventStreamReplaysUntilTerminal(t *testing.T) {
	backend := newBackendStub()
	backend.flows["task-a"] = manifest.New("task-a", time.Now())
	hub := notifications.NewHub(16)
	ctx := context.Background()
	_ = hub.Publish(ctx, "task-a", notifications.EventStatusChange, notifications.Payload{"status": "downloading"})
	_ = hub.Publish(ctx, "task-b", notifications.EventProgress, notifications.Payload{"overallProgress": 5})
	_ = hub.Publish(ctx, "task-a", notifications.EventProgress, notifications.Payload{"overallProgress": 10})
	_ = hub.Publish(ctx, "task-a", notifications.EventComplete, notifications.Payload{"overallProgress": 100})
	srv := newTestServer(t, backend, hub, "")

	resp := doRequest(t, srv, http.MethodGet, "/api/flows/task-a/events", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	frames := readFrames(t, resp.Body)
	if len(frames) != 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].id != "1" || frames[2].id != "4" || frames[2].event != "complete" {
		t.Fatalf("frames = %+v", frames)
	}
	var evt Event
	if err := json.Unmarshal([]byte(frames[2].data), &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if !evt.Terminal || evt.TaskID != "task-a" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestEventStreamResumesFromLastEventID(t *testing.T) {
	backend := newBackendStub()
	backend.flows["task-a"] = manifest.New("task-a", time.Now())
	hub := notifications.NewHub(16)
	ctx := context.Background()
	_ = hub.Publish(ctx, "task-a", notifications.EventStatusChange, notifications.Payload{"status": "downloading"})
	_ = hub.Publish(ctx, "task-a", notifications.EventProgress, notifications.Payload{"overallProgress": 10})
	srv := newTestServer(t, backend, hub, "")

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = hub.Publish(ctx, "task-a", notifications.EventStageFailed, notifications.Payload{"retrying": false, "error": "boom"})
	}()
	resp := doRequest(t, srv, http.MethodGet, "/api/flows/task-a/events", "", map[string]string{"Last-Event-ID": "1"})
	frames := readFrames(t, resp.Body)
	if len(frames) != 2 || frames[0].id != "2" || frames[1].event != "stage-failed" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestEventStreamSnapshotForFinishedFlow(t *testing.T) {
	backend := newBackendStub()
	m := manifest.New("task-a", time.Now())
	m.Finish(pipeline.StatusCompleted, "", time.Now())
	backend.flows["task-a"] = m
	srv := newTestServer(t, backend, notifications.NewHub(16), "")

	frames := readFrames(t, doRequest(t, srv, http.MethodGet, "/api/flows/task-a/events", "", nil).Body)
	if len(frames) != 1 || frames[0].event != "snapshot" {
		t.Fatalf("frames = %+v", frames)
	}
	var flow Flow
	if err := json.Unmarshal([]byte(frames[0].data), &flow); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if flow.Status != "completed" {
		t.Fatalf("snapshot = %+v", flow)
	}
}

func TestEventStreamUnknownTask(t *testing.T) {
	srv := newTestServer(t, newBackendStub(), notifications.NewHub(16), "")
	if resp := doRequest(t, srv, http.MethodGet, "/api/flows/task-x/events", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestEventStreamAfterRemoval(t *testing.T) {
	hub := notifications.NewHub(16)
	_ = hub.Publish(context.Background(), "task-a", notifications.EventStatusChange, notifications.Payload{"status": "removed", "removed": true})
	srv := newTestServer(t, newBackendStub(), hub, "")
	frames := readFrames(t, doRequest(t, srv, http.MethodGet, "/api/flows/task-a/events", "", nil).Body)
	if len(frames) != 1 || frames[0].event != "status-change" {
		t.Fatalf("frames = %+v", frames)
	}
}
