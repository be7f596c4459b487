package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// StatementSnapshot is the last statement-balance computation for an
// organization, kept in Redis so the balance-due path can detect drift
// between what was last offered and what the ledger now says.
type StatementSnapshot struct {
	OrgID      int64            `json:"org_id"`
	Balances   map[string]int64 `json:"balances"` // per unit
	ComputedAt time.Time        `json:"computed_at"`
}

// SnapshotCache caches statement snapshots in Redis
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotCache creates a SnapshotCache from a Redis URL
func NewSnapshotCache(redisURL string, ttl time.Duration) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{client: client, ttl: ttl}, nil
}

// NewSnapshotCacheWithClient wraps an existing client (used by tests)
func NewSnapshotCacheWithClient(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func snapshotKey(orgID int64) string {
	return fmt.Sprintf("stmt:%d", orgID)
}

// Get retrieves the cached snapshot for an organization; (nil, nil) on miss
func (c *SnapshotCache) Get(ctx context.Context, orgID int64) (*StatementSnapshot, error) {
	data, err := c.client.Get(ctx, snapshotKey(orgID)).Result()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var snap StatementSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		// Corrupt entry: drop it and treat as a miss.
		c.client.Del(ctx, snapshotKey(orgID))
		return nil, nil
	}
	return &snap, nil
}

// Set stores a snapshot
func (c *SnapshotCache) Set(ctx context.Context, snap *StatementSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.client.Set(ctx, snapshotKey(snap.OrgID), data, c.ttl).Err()
}

// Invalidate drops the snapshot for an organization. Every ledger-mutating
// path calls this after commit so the next statement is recomputed.
func (c *SnapshotCache) Invalidate(ctx context.Context, orgID int64) error {
	return c.client.Del(ctx, snapshotKey(orgID)).Err()
}

// Client exposes the underlying Redis client for health checks
func (c *SnapshotCache) Client() *redis.Client {
	return c.client
}

// Ping checks Redis connectivity
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}
