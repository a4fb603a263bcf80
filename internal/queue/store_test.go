package queue_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"vidflow/internal/queue"
	"vidflow/internal/testsupport"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openWithClock(t *testing.T, opts ...testsupport.ConfigOption) (*queue.Store, *clock) {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenQueue(t, cfg)
	clk := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clk.Now)
	return store, clk
}

func TestEnqueueClaimAck(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	job, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "t1", Stage: "download", MaxAttempts: 3, InputJSON: `{"url":"x"}`})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.ID == 0 || job.Attempt != 1 || job.Status != queue.JobQueued {
		t.Fatalf("unexpected job: %+v", job)
	}

	claimed, err := store.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim job %d, got %+v", job.ID, claimed)
	}
	if claimed.Status != queue.JobRunning || claimed.LeaseID == "" || claimed.LastHeartbeat == nil {
		t.Fatalf("claimed job missing lease: %+v", claimed)
	}
	if claimed.InputJSON != `{"url":"x"}` {
		t.Fatalf("input not preserved: %q", claimed.InputJSON)
	}

	if again, err := store.Claim(ctx); err != nil || again != nil {
		t.Fatalf("expected empty queue, got %+v, %v", again, err)
	}

	if err := store.Ack(ctx, claimed, `{"ok":true}`); err != nil {
		t.Fatalf("Ack: %v", err)
	}
	stored, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.JobDone || stored.ResultJSON != `{"ok":true}` || stored.LeaseID != "" {
		t.Fatalf("unexpected stored job: %+v", stored)
	}
}

func TestAckIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "t1", Stage: "audio"}); err != nil {
		t.Fatal(err)
	}
	claimed, _ := store.Claim(ctx)
	duplicate := *claimed

	if err := store.Ack(ctx, claimed, ""); err != nil {
		t.Fatalf("first Ack: %v", err)
	}
	if err := store.Ack(ctx, &duplicate, ""); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("duplicate Ack should be stale, got %v", err)
	}
	if err := store.Fail(ctx, &duplicate, "", "late"); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("late Fail should be stale, got %v", err)
	}
	if err := store.Heartbeat(ctx, duplicate.ID, duplicate.LeaseID); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("heartbeat on finished job should be stale, got %v", err)
	}
}

func TestFailStoresResultAndMessage(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	job, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "f1", Stage: "download", MaxAttempts: 2})
	claimed, _ := store.Claim(ctx)
	if err := store.Fail(ctx, claimed, `{"errorKind":"validation"}`, "bad url"); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	stored, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != queue.JobFailed || stored.ErrorMessage != "bad url" {
		t.Fatalf("unexpected failed job: %+v", stored)
	}
	if stored.ResultJSON != `{"errorKind":"validation"}` {
		t.Fatalf("failed result not kept: %q", stored.ResultJSON)
	}
}

func TestClaimOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	store, clk := openWithClock(t)

	low, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "low", Stage: "download", Priority: queue.PriorityLow})
	clk.Advance(time.Second)
	normal, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "normal", Stage: "download", Priority: queue.PriorityNormal})
	clk.Advance(time.Second)
	high, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "high", Stage: "download", Priority: queue.PriorityHigh})
	clk.Advance(time.Second)
	normal2, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "normal2", Stage: "download", Priority: queue.PriorityNormal})

	want := []int64{high.ID, normal.ID, normal2.ID, low.ID}
	for i, id := range want {
		job, err := store.Claim(ctx)
		if err != nil || job == nil {
			t.Fatalf("claim %d: %+v %v", i, job, err)
		}
		if job.ID != id {
			t.Fatalf("claim %d: got job %d want %d", i, job.ID, id)
		}
	}
}

func TestClaimFiltersByStage(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "a", Stage: "download"}); err != nil {
		t.Fatal(err)
	}
	summary, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "b", Stage: "summary"})

	job, err := store.Claim(ctx, "summary", "audio")
	if err != nil || job == nil || job.ID != summary.ID {
		t.Fatalf("expected summary job, got %+v %v", job, err)
	}
}

func TestClaimSkipsTaskWithRunningJob(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "same", Stage: "download"}); err != nil {
		t.Fatal(err)
	}
	first, _ := store.Claim(ctx)
	if first == nil {
		t.Fatal("expected first claim")
	}
	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "same", Stage: "audio"}); err != nil {
		t.Fatal(err)
	}
	if job, _ := store.Claim(ctx); job != nil {
		t.Fatalf("second job of the same task must wait, got %+v", job)
	}
	if err := store.Ack(ctx, first, ""); err != nil {
		t.Fatal(err)
	}
	if job, _ := store.Claim(ctx); job == nil || job.Stage != "audio" {
		t.Fatalf("expected audio job after ack, got %+v", job)
	}
}

func TestRetryAttemptsWaitForBackoff(t *testing.T) {
	ctx := context.Background()
	store, clk := openWithClock(t, testsupport.WithRetryBackoff(10, 25))

	if got := store.Backoff(1); got != 0 {
		t.Fatalf("first attempt backoff = %s", got)
	}
	if got := store.Backoff(2); got != 10*time.Second {
		t.Fatalf("second attempt backoff = %s", got)
	}
	if got := store.Backoff(3); got != 20*time.Second {
		t.Fatalf("third attempt backoff = %s", got)
	}
	if got := store.Backoff(6); got != 25*time.Second {
		t.Fatalf("backoff should cap, got %s", got)
	}

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "r", Stage: "download", Attempt: 2, MaxAttempts: 3}); err != nil {
		t.Fatal(err)
	}
	if job, _ := store.Claim(ctx); job != nil {
		t.Fatalf("retry should not be available yet, got %+v", job)
	}
	clk.Advance(11 * time.Second)
	job, err := store.Claim(ctx)
	if err != nil || job == nil || job.Attempt != 2 {
		t.Fatalf("expected retry job after backoff, got %+v %v", job, err)
	}
	if job.Exhausted() {
		t.Fatal("attempt 2 of 3 is not exhausted")
	}
}

func TestCancelTaskRevokesLeases(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "gone", Stage: "download"}); err != nil {
		t.Fatal(err)
	}
	running, _ := store.Claim(ctx)
	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "gone", Stage: "audio"}); err != nil {
		t.Fatal(err)
	}

	n, err := store.CancelTask(ctx, "gone")
	if err != nil || n != 2 {
		t.Fatalf("CancelTask = %d, %v", n, err)
	}
	if err := store.Ack(ctx, running, ""); !errors.Is(err, queue.ErrStaleJob) {
		t.Fatalf("ack after cancel should be stale, got %v", err)
	}
	open, err := store.OpenForTask(ctx, "gone")
	if err != nil || open != nil {
		t.Fatalf("expected no open job, got %+v %v", open, err)
	}
}

func TestReclaimStaleAndResetRunning(t *testing.T) {
	ctx := context.Background()
	store, clk := openWithClock(t)

	for _, id := range []string{"a", "b"} {
		if _, err := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: id, Stage: "download"}); err != nil {
			t.Fatal(err)
		}
	}
	stale, _ := store.Claim(ctx)
	clk.Advance(5 * time.Minute)
	fresh, _ := store.Claim(ctx)

	n, err := store.ReclaimStale(ctx, clk.Now().Add(-time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("ReclaimStale = %d, %v", n, err)
	}
	reclaimed, _ := store.GetByID(ctx, stale.ID)
	if reclaimed.Status != queue.JobQueued || reclaimed.LeaseID != "" {
		t.Fatalf("expected stale job requeued, got %+v", reclaimed)
	}
	if err := store.Heartbeat(ctx, fresh.ID, fresh.LeaseID); err != nil {
		t.Fatalf("fresh lease should survive: %v", err)
	}

	n, err = store.ResetRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning = %d, %v", n, err)
	}
}

func TestLatestAndListForTask(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	if latest, err := store.LatestForTask(ctx, "t", ""); err != nil || latest != nil {
		t.Fatalf("expected nil latest, got %+v %v", latest, err)
	}
	first, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "t", Stage: "download"})
	claimed, _ := store.Claim(ctx)
	_ = store.Ack(ctx, claimed, `{"files":{}}`)
	second, _ := store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "t", Stage: "audio"})

	latest, err := store.LatestForTask(ctx, "t", "")
	if err != nil || latest.ID != second.ID {
		t.Fatalf("latest = %+v %v", latest, err)
	}
	latestDownload, err := store.LatestForTask(ctx, "t", "download")
	if err != nil || latestDownload.ID != first.ID || latestDownload.ResultJSON == "" {
		t.Fatalf("latest download = %+v %v", latestDownload, err)
	}
	jobs, err := store.ListByTask(ctx, "t")
	if err != nil || len(jobs) != 2 {
		t.Fatalf("ListByTask = %d, %v", len(jobs), err)
	}
	if _, err := store.GetByID(ctx, 9999); !errors.Is(err, queue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestHealthAndCheckHealth(t *testing.T) {
	ctx := context.Background()
	store, _ := openWithClock(t)

	_, _ = store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "h1", Stage: "download"})
	_, _ = store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "h2", Stage: "download"})
	job, _ := store.Claim(ctx)
	_ = store.Fail(ctx, job, "", "boom")

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health: %+v", health)
	}

	db, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !db.DatabaseExists || !db.DatabaseReadable || !db.TableExists || !db.IntegrityCheck || db.TotalJobs != 2 || db.SchemaVersion != 1 {
		t.Fatalf("unexpected database health: %+v", db)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenQueue(t, cfg)
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", cfg.QueueDBPath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 7"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	if _, err := queue.Open(cfg); !errors.Is(err, queue.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestPurgeFinished(t *testing.T) {
	ctx := context.Background()
	store, clk := openWithClock(t)

	_, _ = store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "p", Stage: "download"})
	job, _ := store.Claim(ctx)
	_ = store.Ack(ctx, job, "")
	clk.Advance(48 * time.Hour)
	_, _ = store.Enqueue(ctx, queue.EnqueueRequest{TaskID: "q", Stage: "download"})

	n, err := store.PurgeFinished(ctx, clk.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PurgeFinished = %d, %v", n, err)
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]queue.Priority{"": queue.PriorityNormal, "LOW": queue.PriorityLow, "high": queue.PriorityHigh}
	for in, want := range cases {
		got, err := queue.ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("ParsePriority(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := queue.ParsePriority("urgent"); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}
