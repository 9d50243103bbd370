package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/selimacar/trendbot/internal/domain"
)

// snapshotTTL bounds how long a stale signal or ticker stays readable
// after the bot stops writing.
const snapshotTTL = 5 * time.Minute

// SnapshotCache implements domain.SnapshotCache using plain JSON values.
// Pull-style consumers (dashboard, chat bot) read the latest signal and
// ticker without subscribing to the bus.
type SnapshotCache struct {
	rdb    *redis.Client
	prefix string
}

// NewSnapshotCache creates a SnapshotCache on the given client.
func NewSnapshotCache(rdb *redis.Client, prefix string) *SnapshotCache {
	if prefix == "" {
		prefix = "trendbot"
	}
	return &SnapshotCache{rdb: rdb, prefix: prefix}
}

// SetSignal stores the latest trend signal.
func (sc *SnapshotCache) SetSignal(ctx context.Context, sig domain.TrendSignal) error {
	return sc.setJSON(ctx, sc.prefix+":latest:signal", sig)
}

// SetTicker stores the latest ticker.
func (sc *SnapshotCache) SetTicker(ctx context.Context, tick domain.Ticker) error {
	return sc.setJSON(ctx, sc.prefix+":latest:ticker", tick)
}

// GetSignal reads back the latest trend signal. Returns domain.ErrNotFound
// when nothing has been written or the entry expired.
func (sc *SnapshotCache) GetSignal(ctx context.Context) (domain.TrendSignal, error) {
	var sig domain.TrendSignal
	if err := sc.getJSON(ctx, sc.prefix+":latest:signal", &sig); err != nil {
		return domain.TrendSignal{}, err
	}
	return sig, nil
}

// GetTicker reads back the latest ticker.
func (sc *SnapshotCache) GetTicker(ctx context.Context) (domain.Ticker, error) {
	var tick domain.Ticker
	if err := sc.getJSON(ctx, sc.prefix+":latest:ticker", &tick); err != nil {
		return domain.Ticker{}, err
	}
	return tick, nil
}

func (sc *SnapshotCache) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := sc.rdb.Set(ctx, key, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (sc *SnapshotCache) getJSON(ctx context.Context, key string, v any) error {
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SnapshotCache = (*SnapshotCache)(nil)
