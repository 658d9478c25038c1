package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/triage"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("snapshot cache miss")

// KVStore is the slice of Redis the snapshot cache needs.
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

type RedisKVStore struct {
	client *redis.Client
}

func NewRedisKVStore(client *redis.Client) *RedisKVStore {
	return &RedisKVStore{client: client}
}

func (r *RedisKVStore) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCacheMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Snapshot is what dashboards poll: the head of the queue and every
// region's rollup, taken at one instant.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Top         []triage.Ranked `json:"top"`
	Regions     []geo.Aggregate `json:"regions"`
	Totals      geo.Totals      `json:"totals"`
}

// SnapshotCache publishes engine snapshots to a KV store so read traffic
// never touches the engine locks.
type SnapshotCache struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
}

func NewSnapshotCache(kv KVStore, prefix string, ttl time.Duration) *SnapshotCache {
	if prefix == "" {
		prefix = "ckd:snapshot"
	}
	return &SnapshotCache{kv: kv, prefix: prefix, ttl: ttl}
}

func (c *SnapshotCache) key() string {
	return c.prefix + ":latest"
}

func (c *SnapshotCache) Store(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, c.key(), string(payload), c.ttl); err != nil {
		return fmt.Errorf("failed to set snapshot: %w", err)
	}
	return nil
}

func (c *SnapshotCache) Load(ctx context.Context) (Snapshot, error) {
	raw, err := c.kv.Get(ctx, c.key())
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Run stores a fresh snapshot every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (c *SnapshotCache) Run(ctx context.Context, engine *Engine, interval time.Duration, topN int) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Store(ctx, engine.Snapshot(topN)); err != nil && ctx.Err() == nil {
			logger.Log.WithError(err).Warn("snapshot publish failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
