package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paysettle/internal/config"
	"go.uber.org/zap"
)

const keyCheckoutClient = "checkout:client:%s"

// CheckoutLimiter throttles payment creation per client IP.
// A nil limiter allows everything.
type CheckoutLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewCheckoutLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) (*CheckoutLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if limitCfg.CheckoutRate <= 0 || limitCfg.CheckoutBurst <= 0 {
		return nil, errors.New("checkout rate limit must be positive")
	}
	return &CheckoutLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.CheckoutRate,
		burst:  limitCfg.CheckoutBurst,
		log:    log.Named("ratelimit.checkout"),
	}, nil
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open when redis is unreachable.
func (l *CheckoutLimiter) Allow(ctx context.Context, clientIP string) *Result {
	if !l.Enabled() {
		return &Result{Allowed: true}
	}
	key := fmt.Sprintf(keyCheckoutClient, strings.TrimSpace(clientIP))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("checkout rate limit unavailable", zap.String("client_ip", clientIP), zap.Error(err))
		return &Result{Allowed: true, Limit: l.burst}
	}
	return res
}
