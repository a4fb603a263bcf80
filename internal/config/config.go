package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// API contains the HTTP API bind address and authentication.
type API struct {
	Bind                string `toml:"bind"`
	Token               string `toml:"token"`
	SSEKeepaliveSeconds int    `toml:"sse_keepalive_seconds"`
}

// Flow contains admission control and progress settings for flows.
type Flow struct {
	MaxConcurrentFlows     int      `toml:"max_concurrent_flows"`
	GracePeriodSeconds     int      `toml:"grace_period_seconds"`
	ProgressThrottleMillis int      `toml:"progress_throttle_ms"`
	AllowedHosts           []string `toml:"allowed_hosts"`
}

// StageSettings overrides the retry budget and timeout of one stage.
type StageSettings struct {
	MaxAttempts    int `toml:"max_attempts"`
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Stages groups the per-stage overrides.
type Stages struct {
	Download StageSettings `toml:"download"`
	Audio    StageSettings `toml:"audio"`
	Summary  StageSettings `toml:"summary"`
}

// Queue contains the stage job substrate and worker pool settings.
type Queue struct {
	Workers                  int `toml:"workers"`
	PollIntervalMillis       int `toml:"poll_interval_ms"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval"`
	HeartbeatTimeoutSeconds  int `toml:"heartbeat_timeout"`
	RetryBackoffBaseSeconds  int `toml:"retry_backoff_base"`
	RetryBackoffMaxSeconds   int `toml:"retry_backoff_max"`
}

// Notifications contains configuration for ntfy push notifications and the
// in-memory event hub that feeds live viewers.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	HubCapacity    int    `toml:"hub_capacity"`
	Completions    bool   `toml:"completions"`
	Failures       bool   `toml:"failures"`
}

// Redis contains the optional Pub/Sub relay for flow events.
type Redis struct {
	Enabled       bool   `toml:"enabled"`
	Address       string `toml:"address"`
	Password      string `toml:"password"`
	DB            int    `toml:"db"`
	ChannelPrefix string `toml:"channel_prefix"`
}

// Kafka contains the optional event relay to a Kafka topic.
type Kafka struct {
	Enabled bool   `toml:"enabled"`
	Brokers string `toml:"brokers"`
	Topic   string `toml:"topic"`
}

// Download contains settings for the download stage.
type Download struct {
	Binary        string   `toml:"binary"`
	Format        string   `toml:"format"`
	MaxFilesizeMB int      `toml:"max_filesize_mb"`
	ExtraArgs     []string `toml:"extra_args"`
}

// Audio contains settings for extraction, separation, and transcription.
type Audio struct {
	FFmpegBinary      string `toml:"ffmpeg_binary"`
	SeparationEnabled bool   `toml:"separation_enabled"`
	SeparatorBinary   string `toml:"separator_binary"`
	WhisperBinary     string `toml:"whisper_binary"`
	WhisperModel      string `toml:"whisper_model"`
	Language          string `toml:"language"`
	CUDAEnabled       bool   `toml:"cuda_enabled"`
}

// Summary contains the LLM connection used by the summarization stage.
type Summary struct {
	APIKey             string `toml:"api_key"`
	BaseURL            string `toml:"base_url"`
	Model              string `toml:"model"`
	Style              string `toml:"style"`
	Language           string `toml:"language"`
	Referer            string `toml:"referer"`
	Title              string `toml:"title"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	MaxTranscriptChars int    `toml:"max_transcript_chars"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for vidflow.
//
// Configuration sections by subsystem:
//   - Paths: data and log directories
//   - API: HTTP API bind address, bearer token, SSE keepalive
//   - Flow: admission control, tracker grace period, progress throttling
//   - Stages: per-stage attempt budgets and timeouts
//   - Queue: worker pool size, polling, heartbeats, retry backoff
//   - Notifications: ntfy push and event hub sizing
//   - Redis / Kafka: optional event relays
//   - Download / Audio / Summary: stage processor settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Flow          Flow          `toml:"flow"`
	Stages        Stages        `toml:"stages"`
	Queue         Queue         `toml:"queue"`
	Notifications Notifications `toml:"notifications"`
	Redis         Redis         `toml:"redis"`
	Kafka         Kafka         `toml:"kafka"`
	Download      Download      `toml:"download"`
	Audio         Audio         `toml:"audio"`
	Summary       Summary       `toml:"summary"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file, then applies
// VIDFLOW_* environment overrides. The returned config has all path fields
// expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("vidflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.TasksDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TasksDir is the root under which every task gets its own directory.
func (c *Config) TasksDir() string {
	return filepath.Join(c.Paths.DataDir, "tasks")
}

// QueueDBPath is the location of the stage job database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "vidflowd.lock")
}

// StageAttempts returns the configured attempt budget for a stage queue, or
// fallback when unset.
func (c *Config) StageAttempts(queue string, fallback int) int {
	if s, ok := c.stageSettings(queue); ok && s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return fallback
}

// StageTimeout returns the configured timeout for a stage queue, or fallback
// when unset.
func (c *Config) StageTimeout(queue string, fallback time.Duration) time.Duration {
	if s, ok := c.stageSettings(queue); ok && s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return fallback
}

func (c *Config) stageSettings(queue string) (StageSettings, bool) {
	switch strings.ToLower(strings.TrimSpace(queue)) {
	case "download":
		return c.Stages.Download, true
	case "audio":
		return c.Stages.Audio, true
	case "summary":
		return c.Stages.Summary, true
	default:
		return StageSettings{}, false
	}
}

// GracePeriod is how long finished flows remain visible in the tracker.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Flow.GracePeriodSeconds) * time.Second
}

// ProgressThrottle is the minimum interval between progress notifications for
// one task stage.
func (c *Config) ProgressThrottle() time.Duration {
	return time.Duration(c.Flow.ProgressThrottleMillis) * time.Millisecond
}

// NotifyTimeout bounds each ntfy request.
func (c *Config) NotifyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// SSEKeepalive is the interval between keepalive comments on event streams.
func (c *Config) SSEKeepalive() time.Duration {
	return time.Duration(c.API.SSEKeepaliveSeconds) * time.Second
}

// SummaryTimeout bounds each LLM request.
func (c *Config) SummaryTimeout() time.Duration {
	return time.Duration(c.Summary.TimeoutSeconds) * time.Second
}

// PollInterval is how often idle workers check the queue.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Queue.PollIntervalMillis) * time.Millisecond
}

// HeartbeatInterval and HeartbeatTimeout govern running job leases.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Queue.HeartbeatIntervalSeconds) * time.Second
}

func (c *Config) HeartbeatTimeout() time.Duration {
	return time.Duration(c.Queue.HeartbeatTimeoutSeconds) * time.Second
}

// RetryBackoff returns the base and maximum delay applied between attempts.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Queue.RetryBackoffBaseSeconds) * time.Second,
		time.Duration(c.Queue.RetryBackoffMaxSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML, with secrets redacted.
func (c *Config) Encode() (string, error) {
	clone := *c
	if clone.API.Token != "" {
		clone.API.Token = redacted
	}
	if clone.Summary.APIKey != "" {
		clone.Summary.APIKey = redacted
	}
	if clone.Redis.Password != "" {
		clone.Redis.Password = redacted
	}
	data, err := toml.Marshal(clone)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

const redacted = "********"
