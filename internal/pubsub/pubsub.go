// Package pubsub fans queue-state changes out over Redis Pub/Sub so other
// processes (or a second instance of the UI) can follow download progress
// without polling the API.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AmirrezaFarnamTaheri/YTDownloader-sub000/internal/queue"
)

const progressChannel = "downloads:progress"

// Publisher pushes queue item snapshots onto a Redis channel.
type Publisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewPublisher verifies connectivity and returns a publisher.
func NewPublisher(ctx context.Context, addr, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Publisher{
		client: client,
		logger: log.With().Str("component", "pubsub").Logger(),
	}, nil
}

// Publish sends one item snapshot.
func (p *Publisher) Publish(ctx context.Context, it *queue.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	return p.client.Publish(ctx, progressChannel, data).Err()
}

// Listener adapts the publisher into a queue store listener. Publish
// failures are logged and dropped; progress fan-out must never slow the
// pipeline down.
func (p *Publisher) Listener() queue.Listener {
	return func(it *queue.Item) {
		if err := p.Publish(context.Background(), it); err != nil {
			p.logger.Warn().Err(err).Str("item_id", it.ID).Msg("progress publish failed")
		}
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Subscription is a typed view over a Redis progress subscription.
type Subscription struct {
	pubsub *redis.PubSub
	ch     <-chan *redis.Message
}

// Subscribe opens a progress subscription on the publisher's connection.
func (p *Publisher) Subscribe(ctx context.Context) *Subscription {
	ps := p.client.Subscribe(ctx, progressChannel)
	return &Subscription{pubsub: ps, ch: ps.Channel()}
}

// Next blocks until an item snapshot arrives, the subscription closes, or
// the context expires.
func (s *Subscription) Next(ctx context.Context) (*queue.Item, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, fmt.Errorf("progress subscription closed")
		}
		var it queue.Item
		if err := json.Unmarshal([]byte(msg.Payload), &it); err != nil {
			return nil, fmt.Errorf("failed to decode progress event: %w", err)
		}
		return &it, nil
	}
}

// Close tears down the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
