// Package redis stores the history log in one Redis hash.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/verdantsentinel/backend/internal/service/history"
)

const (
	fieldData    = "data"
	fieldVersion = "version"
)

// Open 解析 REDIS_URL 并确认连接可用。
func Open(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Slot is a history.Slot backed by the hash at key. Writes are guarded by
// WATCH so concurrent writers cannot lose each other's records.
type Slot struct {
	client redis.UniversalClient
	key    string
}

// NewSlot binds a slot to key.
func NewSlot(client redis.UniversalClient, key string) *Slot {
	return &Slot{client: client, key: key}
}

// Read implements history.Slot.
func (s *Slot) Read(ctx context.Context) ([]byte, int64, error) {
	values, err := s.client.HMGet(ctx, s.key, fieldData, fieldVersion).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("redis hmget: %w", err)
	}

	var data []byte
	if raw, ok := values[0].(string); ok {
		data = []byte(raw)
	}
	version, err := parseVersion(values[1])
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// Write implements history.Slot.
func (s *Slot) Write(ctx context.Context, data []byte, expectedVersion int64) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.key, fieldVersion).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis hget: %w", err)
		}
		current, err := parseVersion(raw)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return history.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, fieldData, data, fieldVersion, expectedVersion+1)
			return nil
		})
		return err
	}, s.key)

	if errors.Is(err, redis.TxFailedErr) {
		return history.ErrVersionConflict
	}
	return err
}

// Clear implements history.Slot.
func (s *Slot) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func parseVersion(v any) (int64, error) {
	switch raw := v.(type) {
	case nil:
		return 0, nil
	case string:
		if raw == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("redis version field %q: %w", raw, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected redis version type %T", v)
	}
}
