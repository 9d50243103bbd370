package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/selimacar/trendbot/internal/domain"
)

// streamMaxLen is the approximate maximum length for the event stream,
// enforced via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus. Every event is published on a
// Pub/Sub channel for live consumers and appended to a capped stream so
// late consumers can replay recent history.
type SignalBus struct {
	rdb    *redis.Client
	prefix string
}

// NewSignalBus creates a SignalBus on the given client. Channels and
// streams are namespaced under the prefix, e.g. "trendbot:signal".
func NewSignalBus(rdb *redis.Client, prefix string) *SignalBus {
	if prefix == "" {
		prefix = "trendbot"
	}
	return &SignalBus{rdb: rdb, prefix: prefix}
}

// Publish fans the payload out on the event's channel and appends it to
// the matching stream.
func (sb *SignalBus) Publish(ctx context.Context, event string, payload []byte) error {
	key := sb.prefix + ":" + event
	if err := sb.rdb.Publish(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", key, err)
	}

	args := &redis.XAddArgs{
		Stream: key + ":stream",
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", key, err)
	}
	return nil
}

// Subscribe returns a read-only channel that emits raw payloads published
// for the event. The subscription closes when the context is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, event string) (<-chan []byte, error) {
	key := sb.prefix + ":" + event
	pubsub := sb.rdb.Subscribe(ctx, key)

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", key, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
