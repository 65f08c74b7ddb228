package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	practitioner := uuid.New()
	at := time.Date(2025, 3, 10, 5, 30, 0, 0, time.UTC)

	ran := false
	err := locker.WithSlotLock(context.Background(), practitioner, at, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(SlotLockKey(practitioner, at)))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(SlotLockKey(practitioner, at)), "lock should be released")
}

func TestWithSlotLockContention(t *testing.T) {
	_, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	practitioner := uuid.New()
	at := time.Date(2025, 3, 10, 5, 30, 0, 0, time.UTC)

	err := locker.WithSlotLock(context.Background(), practitioner, at, func(ctx context.Context) error {
		inner := locker.WithSlotLock(ctx, practitioner, at, func(context.Context) error {
			t.Fatal("nested lock for the same slot must not run")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)

		// a different instant for the same practitioner is independent
		return locker.WithSlotLock(ctx, practitioner, at.Add(2*time.Hour), func(context.Context) error { return nil })
	})
	require.NoError(t, err)
}

func TestWithSlotLockPropagatesCallbackError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	boom := errors.New("boom")

	practitioner := uuid.New()
	at := time.Now()
	err := locker.WithSlotLock(context.Background(), practitioner, at, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(SlotLockKey(practitioner, at)))
}

func TestWithSlotLockBackendDown(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)
	mr.Close()

	err := locker.WithSlotLock(context.Background(), uuid.New(), time.Now(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockUnavailable)
}

func TestJobQueueFIFO(t *testing.T) {
	_, client := newTestClient(t)
	q := NewJobQueue(client, "jobs:test")
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, []byte("first")))
	require.NoError(t, q.Push(ctx, []byte("second")))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	got, err = q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestJobQueueEmpty(t *testing.T) {
	_, client := newTestClient(t)
	q := NewJobQueue(client, "jobs:empty")

	_, err := q.Pop(context.Background(), 100*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.Equal(t, 10, client.Options().PoolSize)

	mr.Close()
	_, err = NewRedisClient(context.Background(), Options{Addr: mr.Addr()})
	assert.ErrorContains(t, err, "ping redis")
}
