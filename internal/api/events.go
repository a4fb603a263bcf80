package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
)

const streamBatch = 100

// handleEvents streams a task's events as server-sent events. A client
// resumes with Last-Event-ID (or ?since=); without one it receives every
// buffered event of the task first.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	taskID, err := taskIDParam(c)
	if err != nil {
		return s.writeError(c, err)
	}
	since := parseCursor(c.Get("Last-Event-ID"))
	if since == 0 {
		since = parseCursor(c.Query("since"))
	}

	view, err := s.backend.GetFlow(c.UserContext(), taskID)
	var snapshot *Flow
	switch {
	case errors.Is(err, manifest.ErrNotFound):
		if buffered, _ := s.events.Tail(taskID, 1); len(buffered) == 0 {
			return s.writeError(c, err)
		}
	case err != nil:
		return s.writeError(c, err)
	case view.Manifest != nil && view.Manifest.Terminal():
		flow := FromFlowView(view)
		snapshot = &flow
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	logger := logging.WithContext(c.UserContext(), s.logger).With(logging.String(logging.FieldTaskID, taskID))
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.stream(w, taskID, since, snapshot, logger)
	})
	return nil
}

// stream writes events until a terminal event is sent, the client goes away,
// or the server shuts down. A flow that already finished and whose terminal
// event has left the buffer gets a single snapshot event instead.
func (s *Server) stream(w *bufio.Writer, taskID string, cursor uint64, snapshot *Flow, logger *slog.Logger) {
	if snapshot != nil {
		events, _, _ := s.events.Fetch(s.ctx, taskID, cursor, streamBatch, false)
		if !containsTerminal(events) {
			for _, evt := range events {
				if writeEvent(w, evt) != nil {
					return
				}
			}
			if err := writeSSE(w, "", "snapshot", snapshot); err == nil {
				_ = w.Flush()
			}
			return
		}
	}

	for {
		ctx, cancel := context.WithTimeout(s.ctx, s.keepalive)
		events, next, err := s.events.Fetch(ctx, taskID, cursor, streamBatch, true)
		cancel()
		if s.ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			logger.Debug("event fetch ended", logging.Error(err))
			return
		}
		cursor = next
		if len(events) == 0 {
			if _, err := w.WriteString(": keepalive\n\n"); err != nil {
				return
			}
		}
		for _, evt := range events {
			if err := writeEvent(w, evt); err != nil {
				return
			}
			if evt.Terminal() {
				_ = w.Flush()
				logger.Debug("event stream finished")
				return
			}
		}
		if err := w.Flush(); err != nil {
			logger.Debug("event stream client disconnected")
			return
		}
	}
}

func containsTerminal(events []notifications.Event) bool {
	for _, evt := range events {
		if evt.Terminal() {
			return true
		}
	}
	return false
}

func writeEvent(w *bufio.Writer, evt notifications.Event) error {
	return writeSSE(w, strconv.FormatUint(evt.Sequence, 10), string(evt.Type), FromEvent(evt))
}

func writeSSE(w *bufio.Writer, id, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func parseCursor(raw string) uint64 {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}
