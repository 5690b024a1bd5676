// Package integration bridges committed ledger events to Redis consumers.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/eventsource"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "ledger.events"

// RedisPublisher publishes committed events on a pub/sub channel and bumps a
// per-tenant version key so read-model caches can invalidate.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a publisher on channel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// VersionKey is the counter bumped once per published batch for tenant.
func VersionKey(tenant string) string {
	return "ledger:version:" + tenant
}

// Publish implements ledger.Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, stream eventsource.StreamID, version eventsource.Version, events []ledger.Event) error {
	if p == nil || p.client == nil || len(events) == 0 {
		return nil
	}
	msgs, err := toMessages(stream, version, events)
	if err != nil {
		return err
	}
	pipe := p.client.TxPipeline()
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("integration: marshal message: %w", err)
		}
		pipe.Publish(ctx, p.channel, raw)
	}
	pipe.Incr(ctx, VersionKey(msgs[0].TenantID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("integration: publish %s: %w", stream, err)
	}
	return nil
}

// TenantVersion returns the bump counter for tenant, 0 when unset.
func (p *RedisPublisher) TenantVersion(ctx context.Context, tenant string) (int64, error) {
	raw, err := p.client.Get(ctx, VersionKey(tenant)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Subscribe streams decoded messages until ctx is done. Malformed payloads are skipped.
func (p *RedisPublisher) Subscribe(ctx context.Context) (<-chan Message, error) {
	pubsub := p.client.Subscribe(ctx, p.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("integration: subscribe %s: %w", p.channel, err)
	}
	out := make(chan Message)
	go func() {
		defer close(out)
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ ledger.Publisher = (*RedisPublisher)(nil)
