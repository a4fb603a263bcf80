package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// envOverrides lists the settings that may be supplied through the
// environment. Fields stay nil unless the variable is present.
type envOverrides struct {
	DataDir            *string `env:"VIDFLOW_DATA_DIR, noinit"`
	LogDir             *string `env:"VIDFLOW_LOG_DIR, noinit"`
	APIBind            *string `env:"VIDFLOW_API_BIND, noinit"`
	APIToken           *string `env:"VIDFLOW_API_TOKEN, noinit"`
	MaxConcurrentFlows *int    `env:"VIDFLOW_MAX_CONCURRENT_FLOWS, noinit"`
	QueueWorkers       *int    `env:"VIDFLOW_QUEUE_WORKERS, noinit"`
	NtfyTopic          *string `env:"VIDFLOW_NTFY_TOPIC, noinit"`
	RedisEnabled       *bool   `env:"VIDFLOW_REDIS_ENABLED, noinit"`
	RedisAddress       *string `env:"VIDFLOW_REDIS_ADDRESS, noinit"`
	RedisPassword      *string `env:"VIDFLOW_REDIS_PASSWORD, noinit"`
	RedisDB            *int    `env:"VIDFLOW_REDIS_DB, noinit"`
	KafkaEnabled       *bool   `env:"VIDFLOW_KAFKA_ENABLED, noinit"`
	KafkaBrokers       *string `env:"VIDFLOW_KAFKA_BROKERS, noinit"`
	KafkaTopic         *string `env:"VIDFLOW_KAFKA_TOPIC, noinit"`
	SummaryAPIKey      *string `env:"VIDFLOW_SUMMARY_API_KEY, noinit"`
	SummaryModel       *string `env:"VIDFLOW_SUMMARY_MODEL, noinit"`
	LogLevel           *string `env:"VIDFLOW_LOG_LEVEL, noinit"`
	LogFormat          *string `env:"VIDFLOW_LOG_FORMAT, noinit"`
}

func (c *Config) applyEnv() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var in envOverrides
	if err := envconfig.Process(ctx, &in); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}

	setString(&c.Paths.DataDir, in.DataDir)
	setString(&c.Paths.LogDir, in.LogDir)
	setString(&c.API.Bind, in.APIBind)
	setString(&c.API.Token, in.APIToken)
	setInt(&c.Flow.MaxConcurrentFlows, in.MaxConcurrentFlows)
	setInt(&c.Queue.Workers, in.QueueWorkers)
	setString(&c.Notifications.NtfyTopic, in.NtfyTopic)
	setBool(&c.Redis.Enabled, in.RedisEnabled)
	setString(&c.Redis.Address, in.RedisAddress)
	setString(&c.Redis.Password, in.RedisPassword)
	setInt(&c.Redis.DB, in.RedisDB)
	setBool(&c.Kafka.Enabled, in.KafkaEnabled)
	setString(&c.Kafka.Brokers, in.KafkaBrokers)
	setString(&c.Kafka.Topic, in.KafkaTopic)
	setString(&c.Summary.APIKey, in.SummaryAPIKey)
	setString(&c.Summary.Model, in.SummaryModel)
	setString(&c.Logging.Level, in.LogLevel)
	setString(&c.Logging.Format, in.LogFormat)
	return nil
}

func setString(dst *string, value *string) {
	if value != nil {
		*dst = *value
	}
}

func setInt(dst *int, value *int) {
	if value != nil {
		*dst = *value
	}
}

func setBool(dst *bool, value *bool) {
	if value != nil {
		*dst = *value
	}
}
