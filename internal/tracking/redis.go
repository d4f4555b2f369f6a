package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "booking_tracking:"

// RedisStore shares tracking records between instances.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Client: client, TTL: ttl}
}

func (r *RedisStore) Put(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := r.Client.Set(ctx, redisKeyPrefix+rec.TrackingID, body, r.TTL).Err(); err != nil {
		return fmt.Errorf("store tracking record %s: %w", rec.TrackingID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, trackingID string) (Record, bool, error) {
	body, err := r.Client.Get(ctx, redisKeyPrefix+trackingID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("load tracking record %s: %w", trackingID, err)
	}
	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}
