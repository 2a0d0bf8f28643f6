package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pushrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "webhook:tenant:alice", 0.5, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
		assert.Equal(t, 3, res.Limit)
	}

	res, err := bucket.Allow(ctx, "webhook:tenant:alice", 0.5, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.GreaterOrEqual(t, res.RetryAfter, time.Second)

	other, err := bucket.Allow(ctx, "webhook:tenant:bob", 0.5, 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestTokenBucketValidation(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	_, err := bucket.Allow(ctx, "", 1, 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = bucket.Allow(ctx, "k", 0, 1)
	assert.ErrorIs(t, err, ErrInvalidRate)

	var missing *TokenBucket
	_, err = missing.Allow(ctx, "k", 1, 1)
	assert.ErrorIs(t, err, ErrLimiterNotConfigured)
}

func TestLockerIsExclusive(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "dispatcher:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = locker.TryLock(ctx, "dispatcher:run", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "dispatcher:run", "someone-else"))
	assert.True(t, mr.Exists("dispatcher:run"))

	require.NoError(t, locker.Release(ctx, "dispatcher:run", token))
	assert.False(t, mr.Exists("dispatcher:run"))

	_, ok, err = locker.TryLock(ctx, "dispatcher:run", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerExpires(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "dispatcher:run", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "dispatcher:run", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWebhookLimiter(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	disabled, err := NewWebhookLimiter(config.Config{}, client)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())
	res, err := disabled.AllowTenant(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WebhookTenantRate: 1, WebhookTenantBurst: 1}}
	limiter, err := NewWebhookLimiter(cfg, client)
	require.NoError(t, err)
	require.True(t, limiter.Enabled())

	res, err = limiter.AllowTenant(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = limiter.AllowTenant(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	cfg.RateLimit.WebhookTenantBurst = 0
	_, err = NewWebhookLimiter(cfg, client)
	assert.Error(t, err)
}
