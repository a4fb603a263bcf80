package notifications_test

import (
	"context"
	"testing"
	"time"

	"vidflow/internal/notifications"
)

func TestHubFetchFiltersByTask(t *testing.T) {
	ctx := context.Background()
	hub := notifications.NewHub(16)
	_ = hub.Publish(ctx, "a", notifications.EventProgress, notifications.Payload{"progress": 5})
	_ = hub.Publish(ctx, "b", notifications.EventProgress, notifications.Payload{"progress": 7})
	_ = hub.Publish(ctx, "a", notifications.EventStatusChange, notifications.Payload{"status": "extracting"})

	events, next, err := hub.Fetch(ctx, "a", 0, 0, false)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 || events[0].Sequence != 1 || events[1].Sequence != 3 {
		t.Fatalf("unexpected events: %+v", events)
	}
	if next != 3 {
		t.Fatalf("cursor = %d, want 3", next)
	}

	all, _, _ := hub.Fetch(ctx, "", 1, 0, false)
	if len(all) != 2 || all[0].TaskID != "b" {
		t.Fatalf("unexpected events after cursor: %+v", all)
	}
}

func TestHubFetchWaitsForMatchingEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hub := notifications.NewHub(16)

	done := make(chan []notifications.Event, 1)
	go func() {
		events, _, err := hub.Fetch(ctx, "target", 0, 10, true)
		if err != nil {
			t.Errorf("Fetch: %v", err)
		}
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	_ = hub.Publish(ctx, "other", notifications.EventProgress, nil)
	_ = hub.Publish(ctx, "target", notifications.EventComplete, nil)

	select {
	case events := <-done:
		if len(events) != 1 || events[0].TaskID != "target" || events[0].Type != notifications.EventComplete {
			t.Fatalf("unexpected events: %+v", events)
		}
	case <-ctx.Done():
		t.Fatal("Fetch did not wake up")
	}
}

func TestHubFetchStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := notifications.NewHub(4)
	errCh := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, "x", 0, 1, true)
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fetch ignored cancellation")
	}
}

func TestHubEvictsOldestAndTails(t *testing.T) {
	ctx := context.Background()
	hub := notifications.NewHub(3)
	for i := 0; i < 5; i++ {
		_ = hub.Publish(ctx, "t", notifications.EventProgress, notifications.Payload{"i": i})
	}
	if first := hub.FirstSequence(); first != 3 {
		t.Fatalf("FirstSequence = %d, want 3", first)
	}
	tail, cursor := hub.Tail("t", 2)
	if len(tail) != 2 || tail[0].Sequence != 4 || tail[1].Sequence != 5 || cursor != 5 {
		t.Fatalf("unexpected tail: %+v cursor=%d", tail, cursor)
	}
}

func TestEventTerminal(t *testing.T) {
	cases := []struct {
		evt  notifications.Event
		want bool
	}{
		{notifications.Event{Type: notifications.EventComplete}, true},
		{notifications.Event{Type: notifications.EventStageFailed, Payload: notifications.Payload{"retrying": true}}, false},
		{notifications.Event{Type: notifications.EventStageFailed, Payload: notifications.Payload{"retrying": false}}, true},
		{notifications.Event{Type: notifications.EventProgress}, false},
	}
	for i, tc := range cases {
		if got := tc.evt.Terminal(); got != tc.want {
			t.Fatalf("case %d: Terminal() = %v", i, got)
		}
	}
}
