package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"vidflow/internal/logging"
)

// kafkaProducer is the subset of *kafka.Producer the relay uses.
type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// KafkaSink mirrors events to a Kafka topic keyed by task id, so every event
// of a task lands on the same partition in order.
type KafkaSink struct {
	producer kafkaProducer
	topic    string
	logger   *slog.Logger
	done     chan struct{}
}

// NewKafkaSink creates a producer for brokers (comma separated).
func NewKafkaSink(brokers, topic string, logger *slog.Logger) (*KafkaSink, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"client.id":         "vidflow",
		"acks":              "1",
		"linger.ms":         50,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newKafkaSink(producer, topic, logger), nil
}

func newKafkaSink(producer kafkaProducer, topic string, logger *slog.Logger) *KafkaSink {
	sink := &KafkaSink{
		producer: producer,
		topic:    topic,
		logger:   logging.NewComponentLogger(logger, "kafka-relay"),
		done:     make(chan struct{}),
	}
	go sink.drain()
	return sink
}

// drain consumes delivery reports so the producer never blocks.
func (k *KafkaSink) drain() {
	defer close(k.done)
	for evt := range k.producer.Events() {
		switch ev := evt.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				logging.WarnWithContext(k.logger, "kafka delivery failed", "relay_delivery_failed",
					logging.Error(ev.TopicPartition.Error),
					logging.String(logging.FieldImpact, "event not mirrored to kafka"),
				)
			}
		case kafka.Error:
			logging.WarnWithContext(k.logger, "kafka producer error", "relay_producer_error",
				logging.Error(ev),
				logging.String(logging.FieldErrorHint, "check kafka.brokers and broker health"),
			)
		}
	}
}

func (k *KafkaSink) Publish(_ context.Context, taskID string, eventType EventType, payload Payload) error {
	msg, err := buildKafkaMessage(k.topic, newEvent(taskID, eventType, payload))
	if err != nil {
		return err
	}
	if err := k.producer.Produce(msg, nil); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

// Close flushes outstanding messages and shuts the producer down.
func (k *KafkaSink) Close() error {
	if remaining := k.producer.Flush(5000); remaining > 0 {
		k.logger.Warn("kafka flush left undelivered events", logging.Int("remaining", remaining))
	}
	k.producer.Close()
	return nil
}

func buildKafkaMessage(topic string, evt Event) (*kafka.Message, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode kafka event: %w", err)
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(evt.TaskID),
		Value:          body,
		Headers:        []kafka.Header{{Key: "event-type", Value: []byte(evt.Type)}},
		Timestamp:      evt.Timestamp,
	}, nil
}
