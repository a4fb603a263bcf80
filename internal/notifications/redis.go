package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// redisPublisher is the subset of *redis.Client the relay uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink mirrors events to Redis Pub/Sub on a per-task channel and a
// shared firehose channel.
type RedisSink struct {
	client redisPublisher
	prefix string
}

// RedisOptions configures the Redis relay.
type RedisOptions struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// NewRedisSink connects a relay to the configured server. The connection is
// lazy; failures surface on the first Publish.
func NewRedisSink(opts RedisOptions) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return newRedisSink(client, opts.Prefix)
}

func newRedisSink(client redisPublisher, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "vidflow"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// TaskChannel is the channel that carries one task's events.
func (r *RedisSink) TaskChannel(taskID string) string {
	return fmt.Sprintf("%s:task:%s", r.prefix, taskID)
}

// EventsChannel carries every event.
func (r *RedisSink) EventsChannel() string {
	return r.prefix + ":events"
}

func (r *RedisSink) Publish(ctx context.Context, taskID string, eventType EventType, payload Payload) error {
	body, err := json.Marshal(newEvent(taskID, eventType, payload))
	if err != nil {
		return fmt.Errorf("encode redis event: %w", err)
	}
	for _, channel := range []string{r.TaskChannel(taskID), r.EventsChannel()} {
		if err := r.client.Publish(ctx, channel, body).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", channel, err)
		}
	}
	return nil
}

// Close releases the client connection pool.
func (r *RedisSink) Close() error {
	return r.client.Close()
}
