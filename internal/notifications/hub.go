package notifications

import (
	"context"
	"sync"
)

// Hub stores recent events in a bounded buffer and wakes waiters when new
// events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
}

// NewHub constructs a hub holding at most capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 512
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish appends an event. It never fails.
func (h *Hub) Publish(_ context.Context, taskID string, eventType EventType, payload Payload) error {
	h.append(newEvent(taskID, eventType, payload))
	return nil
}

func (h *Hub) append(evt Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	h.cond.Broadcast()
	return evt
}

// Fetch returns events with sequence greater than since, restricted to taskID
// when it is non-empty. The returned cursor is the sequence to pass as since
// on the next call. When wait is true, Fetch blocks until a matching event is
// available or the context ends.
func (h *Hub) Fetch(ctx context.Context, taskID string, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()

	for {
		events, next := h.snapshotLocked(taskID, since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		since = next
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
		if err := ctx.Err(); err != nil {
			return nil, since, err
		}
	}
}

// Tail returns the most recent limit events for taskID (all tasks when
// empty) without blocking, plus the current cursor.
func (h *Hub) Tail(taskID string, limit int) ([]Event, uint64) {
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Event
	for i := len(h.buffer) - 1; i >= 0 && len(out) < limit; i-- {
		if taskID == "" || h.buffer[i].TaskID == taskID {
			out = append(out, h.buffer[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *Hub) FirstSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Sequence
}

func (h *Hub) snapshotLocked(taskID string, since uint64, limit int) ([]Event, uint64) {
	next := since
	var out []Event
	for _, evt := range h.buffer {
		if evt.Sequence <= since {
			continue
		}
		next = evt.Sequence
		if taskID != "" && evt.TaskID != taskID {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			return out, next
		}
	}
	if h.nextSeq > next {
		next = h.nextSeq
	}
	return out, next
}
