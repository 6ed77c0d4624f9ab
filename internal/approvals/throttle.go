package approvals

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ThrottleKey marks the last time admins were told about pending registrations.
const ThrottleKey = "notifications_meta:last_pending_notification"

// MarkKey holds the registration time of the newest pending account admins were told about.
const MarkKey = "notifications_meta:last_pending_seen"

// RedisThrottle grants at most one acquisition per key per TTL across all instances.
type RedisThrottle struct {
	client *redis.Client
}

// NewRedisThrottle creates a throttle backed by SET NX.
func NewRedisThrottle(client *redis.Client) *RedisThrottle {
	return &RedisThrottle{client: client}
}

// Acquire sets key if absent. It returns false while a previous acquisition is still live.
func (t *RedisThrottle) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return t.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
}

// Release drops an acquisition early.
func (t *RedisThrottle) Release(ctx context.Context, key string) error {
	return t.client.Del(ctx, key).Err()
}

// LastMark returns the time stored under key, or the zero time when unset.
func (t *RedisThrottle) LastMark(ctx context.Context, key string) (time.Time, error) {
	v, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// Mark stores at under key without expiry.
func (t *RedisThrottle) Mark(ctx context.Context, key string, at time.Time) error {
	return t.client.Set(ctx, key, at.UTC().Format(time.RFC3339Nano), 0).Err()
}
