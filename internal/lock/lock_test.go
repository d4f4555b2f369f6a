package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// setupTestRedis starts a miniredis server and a client pointed at it.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to create miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	if err := client.Ping(context.Background()).Err(); err != nil {
		mr.Close()
		t.Fatalf("Failed to connect to miniredis: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestOrderedDedupes(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ordered([]string{"c", "a", "b", "a"}))
	assert.Empty(t, ordered(nil))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "zone:ev:GA", ZoneKey("ev", "GA"))
	assert.Equal(t, []string{"seat:ev:Stalls:A1", "seat:ev:Stalls:B2"}, SeatKeys("ev", "Stalls", []string{"a1", "B2"}))
}

// exerciseMutualExclusion runs many goroutines through the same key and
// checks no two are ever inside at once.
func exerciseMutualExclusion(t *testing.T, l Locker) {
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), []string{"zone:ev:GA"})
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
}

func TestLocalMutualExclusion(t *testing.T) {
	l := NewLocal(5 * time.Second)
	exerciseMutualExclusion(t, l)
	assert.Equal(t, 0, l.Len(), "entries are dropped when unused")
}

func TestLocalDisjointKeysDoNotBlock(t *testing.T) {
	l := NewLocal(time.Second)
	releaseA, err := l.Acquire(context.Background(), []string{"seat:ev:Z:A1"})
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), []string{"seat:ev:Z:A2"})
	require.NoError(t, err)
	releaseB()
}

func TestLocalTimesOutAndRollsBack(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	release, err := l.Acquire(context.Background(), []string{"b"})
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, models.ErrLockTimeout)

	// "a" must have been released by the failed attempt.
	releaseA, err := l.Acquire(context.Background(), []string{"a"})
	require.NoError(t, err)
	releaseA()

	release()
	release()
	assert.Equal(t, 0, l.Len())
}

func TestRedisMutualExclusion(t *testing.T) {
	client, _ := setupTestRedis(t)
	exerciseMutualExclusion(t, NewRedis(client, 5*time.Second, logger.NewNop()))
}

func TestRedisLockSeatsAtomically(t *testing.T) {
	client, _ := setupTestRedis(t)
	ctx := context.Background()
	r := NewRedis(client, 30*time.Millisecond, logger.NewNop())

	release, err := r.Acquire(ctx, []string{"seat:ev:Z:A2"})
	require.NoError(t, err)

	_, err = r.Acquire(ctx, []string{"seat:ev:Z:A1", "seat:ev:Z:A2", "seat:ev:Z:A3"})
	assert.ErrorIs(t, err, models.ErrLockTimeout)

	holder, err := r.Holder(ctx, "seat:ev:Z:A1")
	require.NoError(t, err)
	assert.Empty(t, holder, "partially acquired keys are released")

	release()
	holder, err = r.Holder(ctx, "seat:ev:Z:A2")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestRedisReleaseOnlyRemovesOwnToken(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()
	r := NewRedis(client, time.Second, logger.NewNop())
	r.TTL = time.Second

	release, err := r.Acquire(ctx, []string{"zone:ev:GA"})
	require.NoError(t, err)

	// The key expires and somebody else takes it over.
	mr.FastForward(2 * time.Second)
	other, err := r.Acquire(ctx, []string{"zone:ev:GA"})
	require.NoError(t, err)

	release()
	holder, err := r.Holder(ctx, "zone:ev:GA")
	require.NoError(t, err)
	assert.NotEmpty(t, holder, "stale release must not delete the new holder's key")
	other()
}
