package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/skeinai/skein/pkg/domain"
)

const (
	redisRecordKeyPrefix = "skein:exec:"
	redisIndexKey        = "skein:exec:ids"
)

// RedisStore persists execution records in Redis. Each record lives under its
// own key with an insertion-order index list alongside; SETNX on the record
// key keeps Append idempotent even when the index push is retried.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// Append implements ExecutionStore.
func (s *RedisStore) Append(ctx context.Context, record domain.ExecutionRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.ID, err)
	}

	inserted, err := s.client.SetNX(ctx, redisRecordKeyPrefix+record.ID, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("store record %s: %w", record.ID, err)
	}
	if !inserted {
		return nil
	}
	if err := s.client.RPush(ctx, redisIndexKey, record.ID).Err(); err != nil {
		return fmt.Errorf("index record %s: %w", record.ID, err)
	}
	return nil
}

// Get implements ExecutionStore.
func (s *RedisStore) Get(ctx context.Context, id string) (domain.ExecutionRecord, error) {
	payload, err := s.client.Get(ctx, redisRecordKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return domain.ExecutionRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("fetch record %s: %w", id, err)
	}
	var record domain.ExecutionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.ExecutionRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}
	return record, nil
}

// List implements ExecutionStore.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]domain.ExecutionRecord, error) {
	ids, err := s.client.LRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list record ids: %w", err)
	}

	out := make([]domain.ExecutionRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Index entry outlived its record; skip rather than fail
			// the whole listing.
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.GraphID != "" && record.GraphID != opts.GraphID {
			continue
		}
		out = append(out, record)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Close implements ExecutionStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
