package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultSnapshotTTL = 24 * time.Hour
	snapshotTimeout    = 3 * time.Second
)

// SnapshotCache keeps the latest engine snapshot under one Redis key. It is
// the fast path for restarts; SQLite holds the durable copies.
type SnapshotCache struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
}

// NewSnapshotCache stores snapshots under key with a 24h TTL.
func NewSnapshotCache(client *goredis.Client, key string) *SnapshotCache {
	return &SnapshotCache{client: client, key: key, ttl: defaultSnapshotTTL}
}

// SaveSnapshotJSON overwrites the cached snapshot.
func (s *SnapshotCache) SaveSnapshotJSON(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", s.key, err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the cached snapshot, or nil, nil when none exists.
func (s *SnapshotCache) ReadLatestSnapshotJSON() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", s.key, err)
	}
	return data, nil
}
