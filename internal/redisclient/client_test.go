package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/errs"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestAcquireAndReleaseLock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	token, err := client.AcquireLock(ctx, "order:o-1", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	second, err := client.AcquireLock(ctx, "order:o-1", time.Second)
	require.NoError(t, err)
	assert.Empty(t, second)

	released, err := client.ReleaseLock(ctx, "order:o-1", "not-the-owner")
	require.NoError(t, err)
	assert.False(t, released)
	assert.True(t, mr.Exists("lock:order:o-1"))

	released, err = client.ReleaseLock(ctx, "order:o-1", token)
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, mr.Exists("lock:order:o-1"))
}

func TestLockExpires(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	token, err := client.AcquireLock(ctx, "order:o-2", 500*time.Millisecond)
	require.NoError(t, err)

	ok, err := client.ExtendLock(ctx, "order:o-2", token, 2*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(3 * time.Second)

	again, err := client.AcquireLock(ctx, "order:o-2", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, again)
}

func TestLockerReportsConcurrentModification(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client, time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "order:o-3")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "order:o-3")
	assert.True(t, errors.Is(err, errs.ErrConcurrentModification))

	unlock()

	unlock, err = locker.Lock(ctx, "order:o-3")
	require.NoError(t, err)
	unlock()
}

func TestMarkProcessed(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	exists, err := client.CheckIdempotencyKey(ctx, "webhook:TXN-1")
	require.NoError(t, err)
	assert.False(t, exists)

	first, err := client.MarkProcessed(ctx, "webhook:TXN-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	replay, err := client.MarkProcessed(ctx, "webhook:TXN-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, replay)

	exists, err = client.CheckIdempotencyKey(ctx, "webhook:TXN-1")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, time.Hour, mr.TTL("idempotency:webhook:TXN-1"))

	mr.FastForward(time.Hour + time.Second)
	again, err := client.MarkProcessed(ctx, "webhook:TXN-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, again)
}

func TestLockerRenewsLeaseWhileHeld(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client, 200*time.Millisecond)

	unlock, err := locker.Lock(context.Background(), "order:o-4")
	require.NoError(t, err)

	mr.FastForward(150 * time.Millisecond)
	assert.Eventually(t, func() bool {
		return mr.TTL("lock:order:o-4") > 100*time.Millisecond
	}, 2*time.Second, 20*time.Millisecond)

	unlock()
	unlock()
	assert.False(t, mr.Exists("lock:order:o-4"))
}
