package workflow_test

import (
	"context"
	"testing"
	"time"

	"vidflow/internal/queue"
	"vidflow/internal/testsupport"
	"vidflow/internal/workflow"
)

func TestHeartbeatKeepReportsLostLease(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "task-1", Stage: "download", MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := store.Claim(ctx)
	if err != nil || job == nil {
		t.Fatalf("Claim: %+v, %v", job, err)
	}

	monitor := workflow.NewHeartbeatMonitor(store, nil, 5*time.Millisecond, time.Minute)
	lost := make(chan struct{})
	done := make(chan struct{})
	go func() {
		monitor.Keep(ctx, job, func() { close(lost) })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := store.CancelTask(ctx, "task-1"); err != nil {
		t.Fatalf("CancelTask: %v", err)
	}
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("lost lease not reported")
	}
	<-done
}

func TestHeartbeatKeepStopsWithContext(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "task-1", Stage: "download", MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, _ := store.Claim(ctx)

	monitor := workflow.NewHeartbeatMonitor(store, nil, 5*time.Millisecond, time.Minute)
	done := make(chan struct{})
	go func() {
		monitor.Keep(ctx, job, func() { t.Error("lease reported lost") })
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Keep did not return after cancel")
	}

	stored, err := store.GetByID(context.Background(), job.ID)
	if err != nil || stored.Status != queue.JobRunning {
		t.Fatalf("job = %+v, %v", stored, err)
	}
}

func TestHeartbeatReclaimStale(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "task-1", Stage: "download", MaxAttempts: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.Claim(ctx); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	fresh := workflow.NewHeartbeatMonitor(store, nil, time.Second, time.Hour)
	if n, err := fresh.ReclaimStale(ctx); err != nil || n != 0 {
		t.Fatalf("fresh lease reclaimed: %d, %v", n, err)
	}
	time.Sleep(5 * time.Millisecond)
	strict := workflow.NewHeartbeatMonitor(store, nil, time.Second, time.Millisecond)
	if n, err := strict.ReclaimStale(ctx); err != nil || n != 1 {
		t.Fatalf("stale lease: %d, %v", n, err)
	}
}
