package apiclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vidflow/internal/api"
)

// EventSnapshot is the SSE event name sent instead of a replay when a flow
// finished before the stream was opened.
const EventSnapshot = "snapshot"

// StreamEvent is one frame received from an event stream. Snapshot frames
// carry Flow; all others carry Event.
type StreamEvent struct {
	Name  string
	Event api.Event
	Flow  *api.Flow
}

// Terminal reports whether no further events will follow.
func (e StreamEvent) Terminal() bool {
	return e.Name == EventSnapshot || e.Event.Terminal
}

// WatchOptions tunes Watch.
type WatchOptions struct {
	// Since resumes after this sequence number.
	Since uint64
	// MaxReconnects bounds reconnect attempts after a dropped stream. Zero
	// means three; negative disables reconnecting.
	MaxReconnects int
	// ReconnectDelay is the pause before each reconnect.
	ReconnectDelay time.Duration
}

// ErrStreamClosed is returned when the daemon closes the stream before a
// terminal event and reconnects are exhausted.
var ErrStreamClosed = errors.New("event stream closed before the flow finished")

// Watch follows a task's event stream and calls fn for each frame until a
// terminal frame arrives, fn returns an error, or ctx ends. Dropped streams
// are resumed with Last-Event-ID.
func (c *Client) Watch(ctx context.Context, taskID string, opts WatchOptions, fn func(StreamEvent) error) error {
	maxReconnects := opts.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 3
	}
	delay := opts.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}

	cursor := opts.Since
	attempts := 0
	for {
		done, progressed, err := c.watchOnce(ctx, taskID, &cursor, fn)
		if done || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return err
		}
		if progressed {
			attempts = 0
		}
		attempts++
		if maxReconnects < 0 || attempts > maxReconnects {
			if err != nil {
				return err
			}
			return ErrStreamClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// watchOnce reads one connection. done means the caller must stop, either
// because a terminal frame was delivered or fn failed.
func (c *Client) watchOnce(ctx context.Context, taskID string, cursor *uint64, fn func(StreamEvent) error) (done, progressed bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, flowPath(taskID)+"/events", nil)
	if err != nil {
		return true, false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if *cursor > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(*cursor, 10))
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return false, false, fmt.Errorf("open event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, false, decodeError(resp)
	}

	frames := newFrameReader(resp.Body)
	for {
		frame, err := frames.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return false, progressed, nil
			}
			return false, progressed, err
		}
		evt, err := frame.decode()
		if err != nil {
			return true, progressed, err
		}
		if frame.id != "" {
			if seq, perr := strconv.ParseUint(frame.id, 10, 64); perr == nil {
				*cursor = seq
			}
		}
		progressed = true
		if err := fn(evt); err != nil {
			return true, progressed, err
		}
		if evt.Terminal() {
			return true, progressed, nil
		}
	}
}

type frame struct {
	id    string
	event string
	data  strings.Builder
}

func (f *frame) decode() (StreamEvent, error) {
	out := StreamEvent{Name: f.event}
	if f.event == EventSnapshot {
		var flow api.Flow
		if err := json.Unmarshal([]byte(f.data.String()), &flow); err != nil {
			return out, fmt.Errorf("decode snapshot: %w", err)
		}
		out.Flow = &flow
		return out, nil
	}
	if err := json.Unmarshal([]byte(f.data.String()), &out.Event); err != nil {
		return out, fmt.Errorf("decode event %s: %w", f.id, err)
	}
	if out.Name == "" {
		out.Name = out.Event.Type
	}
	return out, nil
}

type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &frameReader{scanner: scanner}
}

// next returns the next frame that carries data. Comment lines (keepalives)
// are skipped.
func (r *frameReader) next() (*frame, error) {
	current := &frame{}
	hasData := false
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if line == "" {
			if hasData {
				return current, nil
			}
			current = &frame{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			current.id = value
		case "event":
			current.event = value
		case "data":
			if hasData {
				current.data.WriteByte('\n')
			}
			current.data.WriteString(value)
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
