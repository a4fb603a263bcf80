package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vidflow/internal/api"
	"vidflow/internal/config"
	"vidflow/internal/daemon"
	"vidflow/internal/notifications"
	"vidflow/internal/pipeline"
	"vidflow/internal/stage"
	"vidflow/internal/testsupport"
	"vidflow/internal/workflow"
)

type noopProcessor struct {
	stage pipeline.Stage
}

func (p noopProcessor) Stage() pipeline.Stage { return p.stage }

func (p noopProcessor) Run(_ context.Context, in stage.Input, progress stage.ProgressFunc) (stage.Result, error) {
	if progress != nil {
		progress(stage.Update{Percent: 50, Step: "working"})
	}
	return stage.Succeeded(in, p.stage.String(), map[string]string{p.stage.String(): filepath.Join(in.WorkDir, "out")}, nil), nil
}

func (p noopProcessor) HealthCheck(context.Context) stage.Health {
	return stage.Healthy(p.stage.String())
}

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *api.Server
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenQueue(t, cfg)
	manifests := testsupport.MustOpenManifests(t, cfg)
	hub := notifications.NewHub(1024)
	orch := workflow.NewOrchestrator(cfg, store, manifests, workflow.NewTracker(), hub, nil)
	runner, err := workflow.NewRunner(cfg, store, orch, []stage.Processor{
		noopProcessor{stage: pipeline.StageDownload},
		noopProcessor{stage: pipeline.StageAudio},
		noopProcessor{stage: pipeline.StageSummary},
	}, nil)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	d, err := daemon.New(cfg, store, orch, workflow.NewProducer(cfg, orch, nil, nil), runner, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	srv, err := api.NewServer(cfg, d, hub, nil)
	if err != nil {
		cancel()
		t.Fatalf("api.NewServer: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		cancel()
		t.Fatalf("api start: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop()
		cancel()
		d.Stop()
		orch.Tracker().Stop()
	})

	return &cliTestEnv{cfg: cfg, daemon: d, server: srv, configPath: configPath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out, _, err := runCLI(t, append([]string{"--addr", e.server.Addr()}, args...), e.configPath)
	return out, err
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(t *testing.T, duration time.Duration, fn func() bool) {
	t.Helper()
	deadline := time.Now().Add(duration)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", duration)
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
