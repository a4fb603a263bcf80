package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "vidflow/0.1.0"

type ntfyPayload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// NtfySink pushes terminal task events to an ntfy topic URL.
type NtfySink struct {
	endpoint    string
	client      *http.Client
	completions bool
	failures    bool
}

// NewNtfySink returns a sink posting to endpoint. Completions and failures
// toggle which terminal events are pushed.
func NewNtfySink(endpoint string, timeout time.Duration, completions, failures bool) *NtfySink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NtfySink{
		endpoint:    strings.TrimSpace(endpoint),
		client:      &http.Client{Timeout: timeout},
		completions: completions,
		failures:    failures,
	}
}

// Publish sends a push for complete and terminal stage-failed events and
// ignores everything else.
func (n *NtfySink) Publish(ctx context.Context, taskID string, eventType EventType, payload Payload) error {
	data, ok := n.format(taskID, eventType, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, data)
}

func (n *NtfySink) format(taskID string, eventType EventType, payload Payload) (ntfyPayload, bool) {
	label := payloadString(payload, "url")
	if label == "" {
		label = shortID(taskID)
	}
	switch eventType {
	case EventComplete:
		if !n.completions {
			return ntfyPayload{}, false
		}
		return ntfyPayload{
			title:    "vidflow - Complete",
			message:  fmt.Sprintf("✅ Summary ready: %s", label),
			tags:     []string{"vidflow", "flow", "completed"},
			priority: "high",
		}, true
	case EventStageFailed:
		if retrying, _ := payload["retrying"].(bool); retrying || !n.failures {
			return ntfyPayload{}, false
		}
		stage := payloadString(payload, "stage")
		if stage == "" {
			stage = "stage"
		}
		errMsg := payloadString(payload, "error")
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return ntfyPayload{
			title:    "vidflow - Failed",
			message:  fmt.Sprintf("❌ %s failed for %s: %s", stage, label, errMsg),
			tags:     []string{"vidflow", "flow", "error"},
			priority: "high",
		}, true
	default:
		return ntfyPayload{}, false
	}
}

func (n *NtfySink) send(ctx context.Context, data ntfyPayload) error {
	if n == nil || n.client == nil || n.endpoint == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
