package redisinfra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Feed fans pool change notices out to every API instance over one pub/sub channel.
// The message payload is the tenant ID.
type Feed struct {
	client  *redis.Client
	channel string
}

func NewFeed(client *redis.Client, channel string) *Feed {
	return &Feed{client: client, channel: channel}
}

func (f *Feed) Notify(ctx context.Context, tenantID string) error {
	if err := f.client.Publish(ctx, f.channel, tenantID).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run delivers each notice until ctx ends. go-redis resubscribes on its own after a dropped connection.
func (f *Feed) Run(ctx context.Context, deliver func(tenantID string)) error {
	ps := f.client.Subscribe(ctx, f.channel)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", f.channel, err)
	}
	slog.Info("subscribed to change feed", "channel", f.channel)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Payload != "" {
				deliver(msg.Payload)
			}
		}
	}
}
