package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"vidflow/internal/api"
	"vidflow/internal/config"
	"vidflow/internal/daemon"
	"vidflow/internal/daemonctl"
	"vidflow/internal/deps"
	"vidflow/internal/logging"
	"vidflow/internal/manifest"
	"vidflow/internal/notifications"
	"vidflow/internal/processors"
	"vidflow/internal/queue"
	"vidflow/internal/urlcheck"
	"vidflow/internal/workflow"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Bind overrides api.bind when non-empty.
	Bind string
}

// Run starts the vidflow daemon and blocks until ctx ends or the process
// receives SIGINT/SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := daemonctl.PIDPath(cfg)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, hub, sink, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer sink.Close()
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	if opts.Bind != "" {
		cfg.API.Bind = opts.Bind
	}
	server, err := api.NewServer(cfg, d, hub, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	if err := server.Start(signalCtx); err != nil {
		return err
	}
	defer server.Stop()

	<-signalCtx.Done()
	logger.Info("vidflow daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// build assembles the coordinator from configuration. The returned sink is
// owned by the caller.
func build(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, *notifications.Hub, *notifications.Multi, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return nil, nil, nil, err
	}
	manifests, err := manifest.NewFileStore(cfg.TasksDir())
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("open manifest store: %w", err)
	}

	hub := notifications.NewHub(cfg.Notifications.HubCapacity)
	sink, err := notifications.NewFromConfig(cfg, hub, logger)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("init notifications: %w", err)
	}
	logger.Info("notification sinks ready",
		logging.String(logging.FieldEventType, "notification_sinks"),
		logging.String("sinks", strings.Join(sink.Names(), ",")),
	)

	tracker := workflow.NewTracker()
	orch := workflow.NewOrchestrator(cfg, store, manifests, tracker, sink, logger)
	producer := workflow.NewProducer(cfg, orch, urlcheck.New(cfg.Flow.AllowedHosts), logger)
	runner, err := workflow.NewRunner(cfg, store, orch, processors.NewFromConfig(cfg, logger), logger)
	if err != nil {
		_ = sink.Close()
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("create runner: %w", err)
	}

	d, err := daemon.New(cfg, store, orch, producer, runner, logger)
	if err != nil {
		_ = sink.Close()
		_ = store.Close()
		return nil, nil, nil, fmt.Errorf("create daemon: %w", err)
	}
	return d, hub, sink, nil
}

func newLogger(cfg *config.Config, opts Options) (*slog.Logger, error) {
	if opts.LogLevel == "" && !opts.Development {
		return logging.NewFromConfig(cfg)
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	return logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		FilePath:         filepath.Join(cfg.Paths.LogDir, "vidflow.log"),
		Development:      opts.Development,
	})
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("separation_enabled", cfg.Audio.SeparationEnabled),
		logging.String("whisper_model", cfg.Audio.WhisperModel),
		logging.Bool("llm_key_present", strings.TrimSpace(cfg.Summary.APIKey) != ""),
		logging.String("llm_model", cfg.Summary.Model),
		logging.Bool("redis_relay", cfg.Redis.Enabled),
		logging.Bool("kafka_relay", cfg.Kafka.Enabled),
	}
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	for _, status := range statuses {
		attrs = append(attrs, logging.Group(status.Name,
			logging.String("command", status.Command),
			logging.Bool("available", status.Available),
		))
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	for _, dir := range deps.CheckDirectories(cfg) {
		if !dir.Ready {
			logging.WarnWithContext(logger, "directory unusable", "directory_unusable",
				logging.String("directory", dir.Name),
				logging.String("path", dir.Path),
				logging.String(logging.FieldErrorHint, dir.Detail),
			)
		}
	}
	for _, missing := range deps.Missing(statuses) {
		logging.WarnWithContext(logger, "required binary missing", "dependency_missing",
			logging.String("dependency", missing.Name),
			logging.String("stage", missing.Stage),
			logging.String(logging.FieldErrorHint, missing.Detail),
		)
	}
}
