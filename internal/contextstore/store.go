package contextstore

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	redirectTTL   = 24 * time.Hour
	onboardingTTL = time.Hour
)

// StepAwaitingQuestion marks an identity that was greeted but has not sent
// its first real message yet.
const StepAwaitingQuestion = "awaiting-question"

// KV is the slice of the ephemeral store this package needs. Implemented by
// persistence.Redis.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetDel(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// RedirectContext captures where a new contact came from. Read-once: a
// successful read deletes the entry.
type RedirectContext struct {
	URL  string `json:"url"`
	City string `json:"city,omitempty"`
}

// OnboardingState tracks which onboarding step an identity is in. Read-many,
// step-mutable, until cleared or expired.
type OnboardingState struct {
	Step string `json:"step"`
}

// Store keeps short-lived per-identity context in the ephemeral store. The
// TTLs are the de facto timeout mechanism for this state.
type Store struct {
	kv     KV
	logger *zap.Logger
}

// NewStore constructs the store.
func NewStore(kv KV, logger *zap.Logger) *Store {
	return &Store{kv: kv, logger: logger}
}

func redirectKey(identity string) string {
	return "ctx:redirect:" + identity
}

func onboardingKey(identity string) string {
	return "ctx:onboarding:" + identity
}

// SetRedirectContext stores attribution for an identity, valid 24h.
func (s *Store) SetRedirectContext(ctx context.Context, identity string, rc RedirectContext) error {
	raw, err := json.Marshal(rc)
	if err != nil {
		return err
	}
	return s.kv.SetWithTTL(ctx, redirectKey(identity), string(raw), redirectTTL)
}

// GetRedirectContext returns the stored attribution exactly once; the read
// consumes the entry.
func (s *Store) GetRedirectContext(ctx context.Context, identity string) (*RedirectContext, error) {
	raw, found, err := s.kv.GetDel(ctx, redirectKey(identity))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var rc RedirectContext
	if err := json.Unmarshal([]byte(raw), &rc); err != nil {
		s.logger.Warn("malformed redirect context", zap.String("identity", identity), zap.Error(err))
		return nil, nil
	}
	return &rc, nil
}

// SetOnboardingStep records the identity's current onboarding step, valid 1h
// from the last write.
func (s *Store) SetOnboardingStep(ctx context.Context, identity, step string) error {
	raw, err := json.Marshal(OnboardingState{Step: step})
	if err != nil {
		return err
	}
	return s.kv.SetWithTTL(ctx, onboardingKey(identity), string(raw), onboardingTTL)
}

// GetOnboardingState returns the identity's onboarding state, or nil when
// absent or expired.
func (s *Store) GetOnboardingState(ctx context.Context, identity string) (*OnboardingState, error) {
	raw, found, err := s.kv.Get(ctx, onboardingKey(identity))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var state OnboardingState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.logger.Warn("malformed onboarding state", zap.String("identity", identity), zap.Error(err))
		return nil, nil
	}
	return &state, nil
}

// ClearOnboarding removes the identity's onboarding state.
func (s *Store) ClearOnboarding(ctx context.Context, identity string) error {
	return s.kv.Del(ctx, onboardingKey(identity))
}
