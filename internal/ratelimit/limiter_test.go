package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/spec-kit/support-relay/internal/config"
)

type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts: make(map[string]int64),
		ttls:   make(map[string]time.Duration),
	}
}

func (s *fakeCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.ttls[key] = ttl
	return nil
}

func (s *fakeCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.ttls[key], nil
}

// expireNow simulates the window elapsing.
func (s *fakeCounterStore) expireNow(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
	delete(s.ttls, key)
}

var testRateCfg = config.RateLimitConfig{
	IdentityLimit:  10,
	IdentityWindow: time.Minute,
	AddressLimit:   5,
	AddressWindow:  time.Minute,
}

func TestCheckIdentity_AllowsUpToLimit(t *testing.T) {
	store := newFakeCounterStore()
	limiter := NewLimiter(store, testRateCfg, zap.NewNop())

	for i := 0; i < 10; i++ {
		res := limiter.CheckIdentity(context.Background(), "42")
		assert.True(t, res.Allowed, "request %d should pass", i+1)
	}
	res := limiter.CheckIdentity(context.Background(), "42")
	assert.False(t, res.Allowed)
	assert.Zero(t, res.Remaining)
	assert.Equal(t, int64(60), res.ResetInSeconds)
}

func TestCheckIdentity_WindowReset(t *testing.T) {
	store := newFakeCounterStore()
	limiter := NewLimiter(store, testRateCfg, zap.NewNop())

	for i := 0; i < 11; i++ {
		limiter.CheckIdentity(context.Background(), "42")
	}
	assert.False(t, limiter.CheckIdentity(context.Background(), "42").Allowed)

	store.expireNow("rl:id:42")
	res := limiter.CheckIdentity(context.Background(), "42")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(9), res.Remaining)
}

func TestChecks_AreIndependentPerKey(t *testing.T) {
	store := newFakeCounterStore()
	limiter := NewLimiter(store, testRateCfg, zap.NewNop())

	for i := 0; i < 11; i++ {
		limiter.CheckIdentity(context.Background(), "42")
	}
	assert.False(t, limiter.CheckIdentity(context.Background(), "42").Allowed)

	assert.True(t, limiter.CheckIdentity(context.Background(), "43").Allowed)
	assert.True(t, limiter.CheckAddress(context.Background(), "203.0.113.9").Allowed)
}

func TestCheckAddress_UsesAddressLimits(t *testing.T) {
	store := newFakeCounterStore()
	limiter := NewLimiter(store, testRateCfg, zap.NewNop())

	for i := 0; i < 5; i++ {
		assert.True(t, limiter.CheckAddress(context.Background(), "203.0.113.9").Allowed)
	}
	assert.False(t, limiter.CheckAddress(context.Background(), "203.0.113.9").Allowed)
}

func TestCheck_FailsOpenWhenStoreUnreachable(t *testing.T) {
	store := newFakeCounterStore()
	store.err = errors.New("connection refused")
	limiter := NewLimiter(store, testRateCfg, zap.NewNop())

	res := limiter.CheckIdentity(context.Background(), "42")
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(10), res.Remaining)
}
