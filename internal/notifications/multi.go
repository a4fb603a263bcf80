package notifications

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"vidflow/internal/config"
	"vidflow/internal/logging"
)

type namedSink struct {
	name string
	sink Sink
}

// Multi fans events out to several sinks. A failing sink is logged and does
// not stop delivery to the others.
type Multi struct {
	sinks  []namedSink
	logger *slog.Logger
}

// NewMulti returns an empty fan-out.
func NewMulti(logger *slog.Logger) *Multi {
	return &Multi{logger: logging.NewComponentLogger(logger, "notifications")}
}

// Add registers a sink under a name used in logs.
func (m *Multi) Add(name string, sink Sink) *Multi {
	if sink != nil {
		m.sinks = append(m.sinks, namedSink{name: name, sink: sink})
	}
	return m
}

// Names lists the registered sinks in registration order.
func (m *Multi) Names() []string {
	out := make([]string, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.name)
	}
	return out
}

// Publish always returns nil; delivery is best effort.
func (m *Multi) Publish(ctx context.Context, taskID string, eventType EventType, payload Payload) error {
	for _, s := range m.sinks {
		if err := s.sink.Publish(ctx, taskID, eventType, payload); err != nil {
			logging.WarnWithContext(m.logger, "notification delivery failed", "notification_failed",
				logging.String("sink", s.name),
				logging.String(logging.FieldTaskID, taskID),
				logging.String("event", string(eventType)),
				logging.Error(err),
				logging.String(logging.FieldImpact, "viewers on this relay miss the event"),
			)
		}
	}
	return nil
}

// Close closes every sink that holds resources.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if closer, ok := s.sink.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig builds the daemon's sink: the hub first, then each relay the
// configuration enables.
func NewFromConfig(cfg *config.Config, hub *Hub, logger *slog.Logger) (*Multi, error) {
	multi := NewMulti(logger)
	if hub != nil {
		multi.Add("hub", hub)
	}
	if cfg == nil {
		return multi, nil
	}
	if cfg.Notifications.NtfyTopic != "" {
		timeout := cfg.NotifyTimeout()
		multi.Add("ntfy", NewNtfySink(cfg.Notifications.NtfyTopic, timeout, cfg.Notifications.Completions, cfg.Notifications.Failures))
	}
	if cfg.Redis.Enabled {
		multi.Add("redis", NewRedisSink(RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.ChannelPrefix,
		}))
	}
	if cfg.Kafka.Enabled {
		sink, err := NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			_ = multi.Close()
			return nil, err
		}
		multi.Add("kafka", sink)
	}
	return multi, nil
}
