package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"fulfillment-service/internal/errs"
	"fulfillment-service/internal/util"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func lockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}

// AcquireLock tries SET NX PX once and returns the owner token on success.
// An empty token with a nil error means someone else holds the lock.
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := c.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// ReleaseLock deletes the lock only if token still owns it.
func (c *Client) ReleaseLock(ctx context.Context, key, token string) (bool, error) {
	n, err := c.releaseScript.Run(ctx, c.rdb, []string{lockKey(key)}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock script failed: %w", err)
	}
	return n == 1, nil
}

// ExtendLock pushes the expiry of a lock the caller still owns.
func (c *Client) ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := c.extendScript.Run(ctx, c.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock script failed: %w", err)
	}
	return n == 1, nil
}

// MarkProcessed records an idempotency key. It returns false when the key
// was already recorded, i.e. the caller is looking at a replay.
func (c *Client) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), time.Now().Unix(), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark processed %s: %w", key, err)
	}
	return ok, nil
}

// CheckIdempotencyKey reports whether key was recorded by MarkProcessed.
func (c *Client) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	result, err := c.rdb.Exists(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed %s: %w", key, err)
	}
	return result > 0, nil
}

// Locker adapts Client to the per-order lock the orchestrator takes.
type Locker struct {
	client *Client
	ttl    time.Duration
}

func NewLocker(client *Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Locker{client: client, ttl: ttl}
}

// Lock fails fast with CONCURRENT_MODIFICATION when the key is held elsewhere.
// While held, the lease is renewed every ttl/2 so a slow operation (a gateway
// call under the order lock) does not lose it.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token, err := l.client.AcquireLock(ctx, key, l.ttl)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, err, "lock unavailable")
	}
	if token == "" {
		return nil, errs.New(errs.CodeConcurrentModification, "another operation is in progress").With("lock", key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.renew(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, _ = l.client.ReleaseLock(ctx, key, token)
		})
	}, nil
}

func (l *Locker) renew(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
			ok, err := l.client.ExtendLock(ctx, key, token, l.ttl)
			cancel()
			if err != nil || !ok {
				util.GetLogger().Warn("Lost lock lease", zap.String("lock", key), zap.Error(err))
				return
			}
		}
	}
}
