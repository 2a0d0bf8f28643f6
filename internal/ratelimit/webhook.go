package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/pushrelay/internal/config"
	"go.uber.org/fx"
)

const keyWebhookTenant = "webhook:tenant:%s"

// NewRedisClient returns nil when no Redis address is configured; rate
// limiting and the dispatcher run lock are then off.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	addr := strings.TrimSpace(cfg.RateLimit.RedisAddr)
	if addr == "" {
		if cfg.RateLimit.Enabled {
			return nil, errors.New("rate limit redis addr is required")
		}
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RateLimit.RedisPassword),
		DB:       cfg.RateLimit.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

// WebhookLimiter throttles webhook intake per tenant.
type WebhookLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.WebhookTenantRate <= 0 || limitCfg.WebhookTenantBurst <= 0 {
		return nil, errors.New("webhook tenant rate limit must be positive")
	}
	return &WebhookLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.WebhookTenantRate,
		burst:  limitCfg.WebhookTenantBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookLimiter) AllowTenant(ctx context.Context, tenantID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyWebhookTenant, strings.TrimSpace(tenantID)), l.rate, l.burst)
}
