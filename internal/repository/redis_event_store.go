package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultEventTTL = 72 * time.Hour

// RedisEventStore de-duplicates webhook deliveries. Providers retry for up to
// a few days, so ids are kept for ttl and then forgotten.
type RedisEventStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisEventStore(client redis.UniversalClient, ttl time.Duration) *RedisEventStore {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}

	return &RedisEventStore{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisEventStore) MarkProcessed(ctx context.Context, driver, eventID string) (bool, error) {
	first, err := r.client.SetNX(ctx, webhookEventKey(driver, eventID), time.Now().UTC().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark webhook event %s/%s: %w", driver, eventID, err)
	}

	return first, nil
}

func (r *RedisEventStore) Forget(ctx context.Context, driver, eventID string) error {
	return r.client.Del(ctx, webhookEventKey(driver, eventID)).Err()
}

func webhookEventKey(driver, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", driver, eventID)
}
