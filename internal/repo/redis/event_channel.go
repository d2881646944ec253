package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// EventChannel carries notification payloads between processes. Delivery is
// whatever redis pub/sub gives: at most once, no replay.
type EventChannel struct {
	client *goredis.Client
	keys   keyspace
}

func NewEventChannel(client *goredis.Client, prefix string) *EventChannel {
	return &EventChannel{client: client, keys: newKeyspace(prefix)}
}

func (c *EventChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := c.client.Publish(ctx, c.keys.events(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe calls handle for every message on any topic until ctx ends.
// ready, when non-nil, is closed once the subscription is confirmed.
func (c *EventChannel) Subscribe(ctx context.Context, ready chan<- struct{}, handle func(topic string, payload []byte)) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	sub := c.client.PSubscribe(ctx, c.keys.eventsPattern())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	if ready != nil {
		close(ready)
	}

	prefix := c.keys.events("")
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			handle(strings.TrimPrefix(msg.Channel, prefix), []byte(msg.Payload))
		}
	}
}
