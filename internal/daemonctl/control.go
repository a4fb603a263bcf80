package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"vidflow/internal/apiclient"
	"vidflow/internal/config"
)

const pollInterval = 200 * time.Millisecond

// ErrDaemonNotRunning indicates no daemon process could be found.
var ErrDaemonNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	Bind       string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State StartState
	PID   int
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	PID        int
	ForcedKill bool
}

// PIDPath is where the daemon records its process id.
func PIDPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.LogDir, "vidflowd.pid")
}

// Launch starts a detached `vidflow daemon` process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if bind := strings.TrimSpace(opts.Bind); bind != "" {
		args = append(args, "--bind", bind)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForHealthy polls /health until the daemon reports running.
func WaitForHealthy(ctx context.Context, client *apiclient.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var lastErr error
	for {
		ok, err := client.Health(ctx)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New("daemon reports stopped")
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("daemon failed to start: %w", lastErr)
		case <-time.After(pollInterval):
		}
	}
}

// EnsureStarted launches the daemon unless one already answers on the API.
func EnsureStarted(ctx context.Context, client *apiclient.Client, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if ok, err := client.Health(ctx); err == nil && ok {
		result := StartResult{State: StartStateAlreadyRunning}
		if status, statusErr := client.Status(ctx); statusErr == nil {
			result.PID = status.PID
		}
		return result, nil
	}
	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	if err := WaitForHealthy(ctx, client, waitTimeout); err != nil {
		return StartResult{}, err
	}
	result := StartResult{State: StartStateStarted}
	if status, err := client.Status(ctx); err == nil {
		result.PID = status.PID
	}
	return result, nil
}

// ReadPID returns the pid recorded at path, or 0 when the file is missing.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read daemon pid file %q: %w", path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(value)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid %q in %s", value, path)
	}
	return pid, nil
}

// Stop sends SIGTERM to the daemon and escalates to SIGKILL when it is still
// alive after gracePeriod. The pid comes from the API when reachable and from
// the pid file otherwise.
func Stop(ctx context.Context, client *apiclient.Client, pidPath string, gracePeriod time.Duration) (StopResult, error) {
	pid := 0
	if client != nil {
		if status, err := client.Status(ctx); err == nil {
			pid = status.PID
		}
	}
	if pid == 0 {
		filePID, err := ReadPID(pidPath)
		if err != nil {
			return StopResult{}, err
		}
		pid = filePID
	}
	if pid == 0 {
		return StopResult{}, ErrDaemonNotRunning
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to signal current process (pid %d)", pid)
	}
	if !processAlive(pid) {
		_ = os.Remove(pidPath)
		return StopResult{}, ErrDaemonNotRunning
	}

	result := StopResult{PID: pid}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return result, fmt.Errorf("signal daemon process %d: %w", pid, err)
	}
	if waitForExit(ctx, pid, gracePeriod) {
		_ = os.Remove(pidPath)
		return result, nil
	}

	if err := unix.Kill(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return result, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	result.ForcedKill = true
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return result, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	return result, nil
}

func processAlive(pid int) bool {
	err := unix.Kill(pid, unix.Signal(0))
	return err == nil || errors.Is(err, unix.EPERM)
}

func waitForExit(ctx context.Context, pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return !processAlive(pid)
		case <-time.After(pollInterval / 4):
		}
	}
	return !processAlive(pid)
}
