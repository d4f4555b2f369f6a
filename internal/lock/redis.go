package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

const redisKeyPrefix = "booking_lock:"

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var errBusy = errors.New("lock busy")

// Redis is a SetNX lock shared by every instance using the same server.
// Each key expires after TTL so a crashed holder cannot wedge a zone.
type Redis struct {
	Client *redis.Client
	Logger *logger.Logger
	TTL    time.Duration
	Wait   time.Duration
}

func NewRedis(client *redis.Client, wait time.Duration, log *logger.Logger) *Redis {
	return &Redis{Client: client, Logger: log, TTL: 30 * time.Second, Wait: wait}
}

func (r *Redis) lockOne(ctx context.Context, key, token string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond
	b.MaxElapsedTime = r.Wait

	err := backoff.Retry(func() error {
		ok, err := r.Client.SetNX(ctx, redisKeyPrefix+key, token, r.TTL).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if errors.Is(err, errBusy) {
		return fmt.Errorf("%s: %w", key, models.ErrLockTimeout)
	}
	return err
}

func (r *Redis) unlockOne(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(ctx, r.Client, []string{redisKeyPrefix + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		r.Logger.Warn("LOCK", fmt.Sprintf("Failed to release %s: %v", key, err))
	}
}

func (r *Redis) Acquire(ctx context.Context, keys []string) (func(), error) {
	keys = ordered(keys)
	token := uuid.NewString()
	held := make([]string, 0, len(keys))

	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			r.unlockOne(held[i], token)
		}
	}

	for _, key := range keys {
		if err := r.lockOne(ctx, key, token); err != nil {
			unlock()
			return nil, err
		}
		held = append(held, key)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		unlock()
	}, nil
}

// Holder returns the token currently holding key, or "" when free.
func (r *Redis) Holder(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}
