package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vidflow/internal/api"
	"vidflow/internal/apiclient"
	"vidflow/internal/daemonctl"
)

// unreachable is a client for an address nothing listens on.
func unreachable() *apiclient.Client {
	return apiclient.New("127.0.0.1:1", "")
}

func healthServer(t *testing.T, healthyAfter int32) (*apiclient.Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/health":
			if calls.Add(1) <= healthyAfter {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]any{"status": "stopped"})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
		case "/api/status":
			_ = json.NewEncoder(w).Encode(api.DaemonStatus{Running: true, PID: 4242})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return apiclient.New(srv.URL, ""), &calls
}

func TestWaitForHealthy(t *testing.T) {
	client, calls := healthServer(t, 2)
	if err := daemonctl.WaitForHealthy(context.Background(), client, 5*time.Second); err != nil {
		t.Fatalf("WaitForHealthy: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 health probes, got %d", calls.Load())
	}
}

func TestWaitForHealthyTimesOut(t *testing.T) {
	err := daemonctl.WaitForHealthy(context.Background(), unreachable(), 300*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "daemon failed to start") {
		t.Fatalf("expected start failure, got %v", err)
	}
}

func TestEnsureStartedAlreadyRunning(t *testing.T) {
	client, _ := healthServer(t, 0)
	result, err := daemonctl.EnsureStarted(context.Background(), client, "", daemonctl.LaunchOptions{}, time.Second)
	if err != nil {
		t.Fatalf("EnsureStarted: %v", err)
	}
	if result.State != daemonctl.StartStateAlreadyRunning || result.PID != 4242 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestLaunchPassesFlags(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	stub := filepath.Join(dir, "vidflow")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}

	err := daemonctl.Launch(stub, daemonctl.LaunchOptions{ConfigPath: "/etc/vidflow.toml", Bind: "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(argsFile)
		if err == nil && len(data) > 0 {
			if got := strings.TrimSpace(string(data)); got != "daemon --config /etc/vidflow.toml --bind 127.0.0.1:9000" {
				t.Fatalf("unexpected args %q", got)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("stub was not launched")
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := daemonctl.Launch(" ", daemonctl.LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vidflowd.pid")

	if pid, err := daemonctl.ReadPID(path); err != nil || pid != 0 {
		t.Fatalf("missing file: pid=%d err=%v", pid, err)
	}
	if err := os.WriteFile(path, []byte("123\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if pid, err := daemonctl.ReadPID(path); err != nil || pid != 123 {
		t.Fatalf("expected 123, got pid=%d err=%v", pid, err)
	}
	if err := os.WriteFile(path, []byte("nope"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ReadPID(path); err == nil {
		t.Fatal("expected error for malformed pid")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "vidflowd.pid")
	_, err := daemonctl.Stop(context.Background(), unreachable(), pidPath, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestStopRemovesStalePIDFile(t *testing.T) {
	finished := exec.Command("true")
	if err := finished.Run(); err != nil {
		t.Skipf("true unavailable: %v", err)
	}
	pidPath := filepath.Join(t.TempDir(), "vidflowd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(finished.Process.Pid)), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	_, err := daemonctl.Stop(context.Background(), unreachable(), pidPath, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	if _, statErr := os.Stat(pidPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected stale pid file to be removed")
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	proc := exec.Command("sleep", "30")
	if err := proc.Start(); err != nil {
		t.Skipf("sleep unavailable: %v", err)
	}
	done := make(chan struct{})
	go func() {
		_ = proc.Wait()
		close(done)
	}()
	t.Cleanup(func() {
		_ = proc.Process.Kill()
		<-done
	})

	pidPath := filepath.Join(t.TempDir(), "vidflowd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(proc.Process.Pid)+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}

	result, err := daemonctl.Stop(context.Background(), unreachable(), pidPath, 5*time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if result.PID != proc.Process.Pid || result.ForcedKill {
		t.Fatalf("unexpected result %+v", result)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("process still running after Stop")
	}
	if _, statErr := os.Stat(pidPath); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("expected pid file to be removed")
	}
}
