package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/payrecon/internal/config"
)

const keyWebhookClient = "payrecon:webhook:%s:%s"

// WebhookLimiter throttles notification ingress per webhook key and client address.
// A nil limiter allows everything.
type WebhookLimiter struct {
	bucket *TokenBucket
}

func NewWebhookLimiter(cfg config.Config, client *redis.Client) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("webhook rate limit requires REDIS_ADDR")
	}
	bucket, err := NewTokenBucket(client, limitCfg.Rate, limitCfg.Burst)
	if err != nil {
		return nil, fmt.Errorf("webhook rate limit: %w", err)
	}
	return &WebhookLimiter{bucket: bucket}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *WebhookLimiter) Allow(ctx context.Context, webhookKey, clientIP string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookClient, strings.TrimSpace(webhookKey), strings.TrimSpace(clientIP))
	return l.bucket.Take(ctx, key)
}
