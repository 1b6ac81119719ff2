// Package redis persists finished job snapshots in Redis so they outlive the
// in-memory retention window and process restarts.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/doc-extractor/internal/crawler"
)

// DefaultPrefix namespaces snapshot keys.
const DefaultPrefix = "docextractor:job:"

type kv interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// SnapshotStore stores one JSON document per job under prefix+id.
type SnapshotStore struct {
	client kv
	prefix string
	ttl    time.Duration
}

// New connects to addr. ttl <= 0 keeps snapshots until deleted.
func New(addr, prefix string, ttl time.Duration) *SnapshotStore {
	return newWithClient(redis.NewClient(&redis.Options{Addr: addr}), prefix, ttl)
}

func newWithClient(client kv, prefix string, ttl time.Duration) *SnapshotStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SnapshotStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks the connection.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	c, ok := s.client.(*redis.Client)
	if !ok {
		return nil
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Save writes job, replacing any previous snapshot.
func (s *SnapshotStore) Save(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+job.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load returns the snapshot for id or crawler.ErrNotFound.
func (s *SnapshotStore) Load(ctx context.Context, id string) (crawler.Job, error) {
	val, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return crawler.Job{}, crawler.ErrNotFound
		}
		return crawler.Job{}, fmt.Errorf("redis get: %w", err)
	}
	var job crawler.Job
	if err := json.Unmarshal(val, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return job, nil
}

// Delete removes the snapshot for id or returns crawler.ErrNotFound.
func (s *SnapshotStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.prefix+id).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// Close closes the Redis client.
func (s *SnapshotStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
