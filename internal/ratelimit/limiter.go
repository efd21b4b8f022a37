package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/config"
)

// CounterStore is the slice of the ephemeral store the limiter needs.
// Implemented by persistence.Redis.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
}

// Result reports the outcome of a check.
type Result struct {
	Allowed        bool
	Remaining      int64
	ResetInSeconds int64
}

// Limiter throttles requests over a fixed window, independently per identity
// and per network address. If the counting store is unreachable the check
// fails open: availability of support contact outranks strict throttling.
type Limiter struct {
	store  CounterStore
	cfg    config.RateLimitConfig
	logger *zap.Logger
}

// NewLimiter constructs the limiter.
func NewLimiter(store CounterStore, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// CheckIdentity throttles by external identity.
func (l *Limiter) CheckIdentity(ctx context.Context, identity string) Result {
	return l.check(ctx, "rl:id:"+identity, l.cfg.IdentityLimit, l.cfg.IdentityWindow)
}

// CheckAddress throttles by network address.
func (l *Limiter) CheckAddress(ctx context.Context, addr string) Result {
	return l.check(ctx, "rl:ip:"+addr, l.cfg.AddressLimit, l.cfg.AddressWindow)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, window time.Duration) Result {
	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return l.failOpen(key, limit, err)
	}
	// The first increment in a window owns setting its expiry.
	if count == 1 {
		if err := l.store.Expire(ctx, key, window); err != nil {
			return l.failOpen(key, limit, err)
		}
	}
	ttl, err := l.store.TTL(ctx, key)
	if err != nil {
		return l.failOpen(key, limit, err)
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:        count <= limit,
		Remaining:      remaining,
		ResetInSeconds: int64(ttl / time.Second),
	}
}

func (l *Limiter) failOpen(key string, limit int64, err error) Result {
	l.logger.Warn("rate limit store unreachable; failing open",
		zap.String("key", key), zap.Error(err))
	return Result{Allowed: true, Remaining: limit, ResetInSeconds: 0}
}
