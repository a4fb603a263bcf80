package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var summaryStyles = map[string]struct{}{
	"concise":  {},
	"detailed": {},
	"bullets":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateFlow(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateRelays(); err != nil {
		return err
	}
	if err := c.validateSummary(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateFlow() error {
	if c.Flow.MaxConcurrentFlows <= 0 {
		return errors.New("flow.max_concurrent_flows must be positive")
	}
	if len(c.Flow.AllowedHosts) == 0 {
		return errors.New("flow.allowed_hosts must include at least one host")
	}
	return nil
}

func (c *Config) validateStages() error {
	for name, settings := range map[string]StageSettings{
		"stages.download": c.Stages.Download,
		"stages.audio":    c.Stages.Audio,
		"stages.summary":  c.Stages.Summary,
	} {
		if settings.MaxAttempts < 0 {
			return fmt.Errorf("%s.max_attempts must not be negative", name)
		}
		if settings.TimeoutSeconds < 0 {
			return fmt.Errorf("%s.timeout_seconds must not be negative", name)
		}
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.workers":            c.Queue.Workers,
		"queue.heartbeat_interval": c.Queue.HeartbeatIntervalSeconds,
		"queue.heartbeat_timeout":  c.Queue.HeartbeatTimeoutSeconds,
	}); err != nil {
		return err
	}
	if c.Queue.HeartbeatTimeoutSeconds <= c.Queue.HeartbeatIntervalSeconds {
		return errors.New("queue.heartbeat_timeout must be greater than queue.heartbeat_interval")
	}
	if c.Queue.RetryBackoffBaseSeconds < 0 {
		return errors.New("queue.retry_backoff_base must not be negative")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic != "" && c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive when ntfy_topic is set")
	}
	return nil
}

func (c *Config) validateRelays() error {
	if c.Redis.Enabled && c.Redis.Address == "" {
		return errors.New("redis.address must be set when redis.enabled is true")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}
	if c.Kafka.Enabled {
		if c.Kafka.Brokers == "" {
			return errors.New("kafka.brokers must be set when kafka.enabled is true")
		}
		if c.Kafka.Topic == "" {
			return errors.New("kafka.topic must be set when kafka.enabled is true")
		}
	}
	return nil
}

func (c *Config) validateSummary() error {
	if _, ok := summaryStyles[c.Summary.Style]; !ok {
		return fmt.Errorf("summary.style must be one of concise, detailed, bullets (got %q)", c.Summary.Style)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", strings.TrimSpace(key))
		}
	}
	return nil
}
