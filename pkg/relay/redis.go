package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tomaslejdung/superdesk/pkg/signal"
)

const sessionKeyPrefix = "session:"

// Connect opens a Redis client and checks it with a ping.
func Connect(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore keeps session records in Redis so several relays share one code
// space. Records expire after ttl in case a relay dies without cleaning up.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ signal.Store = (*RedisStore)(nil)

// NewRedisStore returns a store using client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(code string) string {
	return sessionKeyPrefix + code
}

// Put stores rec under its code.
func (r *RedisStore) Put(ctx context.Context, rec signal.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, sessionKey(rec.Code), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", rec.Code, err)
	}
	return nil
}

// Get returns the record for code.
func (r *RedisStore) Get(ctx context.Context, code string) (signal.SessionRecord, error) {
	data, err := r.client.Get(ctx, sessionKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return signal.SessionRecord{}, signal.ErrSessionNotFound
	}
	if err != nil {
		return signal.SessionRecord{}, fmt.Errorf("load session %s: %w", code, err)
	}
	var rec signal.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return signal.SessionRecord{}, fmt.Errorf("decode session %s: %w", code, err)
	}
	return rec, nil
}

// Delete removes the record for code.
func (r *RedisStore) Delete(ctx context.Context, code string) error {
	return r.client.Del(ctx, sessionKey(code)).Err()
}

// Exists reports whether code has a record.
func (r *RedisStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := r.client.Exists(ctx, sessionKey(code)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
