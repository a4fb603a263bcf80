package config

import (
	"fmt"
	"os"
	"strings"

	"vidflow/internal/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeFlow()
	c.normalizeQueue()
	c.normalizeNotifications()
	c.normalizeRelays()
	c.normalizeProcessors()
	c.normalizeSummary()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if c.API.SSEKeepaliveSeconds <= 0 {
		c.API.SSEKeepaliveSeconds = defaultSSEKeepaliveSeconds
	}
}

func (c *Config) normalizeFlow() {
	if c.Flow.GracePeriodSeconds < 0 {
		c.Flow.GracePeriodSeconds = 0
	}
	if c.Flow.ProgressThrottleMillis <= 0 {
		c.Flow.ProgressThrottleMillis = defaultProgressThrottleMillis
	}
	hosts := make([]string, 0, len(c.Flow.AllowedHosts))
	seen := make(map[string]struct{}, len(c.Flow.AllowedHosts))
	for _, host := range c.Flow.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		host = strings.TrimPrefix(host, "www.")
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		hosts = append(hosts, host)
	}
	c.Flow.AllowedHosts = hosts
}

func (c *Config) normalizeQueue() {
	if c.Queue.PollIntervalMillis <= 0 {
		c.Queue.PollIntervalMillis = defaultQueuePollMillis
	}
	if c.Queue.RetryBackoffMaxSeconds < c.Queue.RetryBackoffBaseSeconds {
		c.Queue.RetryBackoffMaxSeconds = c.Queue.RetryBackoffBaseSeconds
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.HubCapacity <= 0 {
		c.Notifications.HubCapacity = defaultHubCapacity
	}
}

func (c *Config) normalizeRelays() {
	c.Redis.Address = strings.TrimSpace(c.Redis.Address)
	c.Redis.ChannelPrefix = strings.Trim(strings.TrimSpace(c.Redis.ChannelPrefix), ":")
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = defaultRedisChannelPrefix
	}
	c.Kafka.Brokers = strings.TrimSpace(c.Kafka.Brokers)
	c.Kafka.Topic = strings.TrimSpace(c.Kafka.Topic)
}

func (c *Config) normalizeProcessors() {
	c.Download.Binary = defaultIfBlank(c.Download.Binary, defaultDownloadBinary)
	c.Download.Format = strings.TrimSpace(c.Download.Format)
	c.Audio.FFmpegBinary = defaultIfBlank(c.Audio.FFmpegBinary, defaultFFmpegBinary)
	c.Audio.SeparatorBinary = defaultIfBlank(c.Audio.SeparatorBinary, defaultSeparatorBinary)
	c.Audio.WhisperBinary = defaultIfBlank(c.Audio.WhisperBinary, defaultWhisperBinary)
	c.Audio.WhisperModel = defaultIfBlank(c.Audio.WhisperModel, defaultWhisperModel)
	c.Audio.Language = language.Normalize(c.Audio.Language)
}

func (c *Config) normalizeSummary() {
	if strings.TrimSpace(c.Summary.APIKey) == "" {
		if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.Summary.APIKey = value
		} else if value, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			c.Summary.APIKey = value
		}
	}
	c.Summary.APIKey = strings.TrimSpace(c.Summary.APIKey)
	c.Summary.BaseURL = defaultIfBlank(c.Summary.BaseURL, defaultSummaryBaseURL)
	c.Summary.Model = defaultIfBlank(c.Summary.Model, defaultSummaryModel)
	c.Summary.Style = strings.ToLower(defaultIfBlank(c.Summary.Style, defaultSummaryStyle))
	c.Summary.Language = strings.TrimSpace(c.Summary.Language)
	if c.Summary.TimeoutSeconds <= 0 {
		c.Summary.TimeoutSeconds = defaultSummaryTimeoutSeconds
	}
	if c.Summary.MaxTranscriptChars <= 0 {
		c.Summary.MaxTranscriptChars = defaultSummaryMaxTranscriptLen
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func defaultIfBlank(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}
