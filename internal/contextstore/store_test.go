package contextstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (kv *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	val, ok := kv.data[key]
	return val, ok, nil
}

func (kv *fakeKV) GetDel(ctx context.Context, key string) (string, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	val, ok := kv.data[key]
	if ok {
		delete(kv.data, key)
		delete(kv.ttls, key)
	}
	return val, ok, nil
}

func (kv *fakeKV) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = value
	kv.ttls[key] = ttl
	return nil
}

func (kv *fakeKV) Del(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	delete(kv.ttls, key)
	return nil
}

func (kv *fakeKV) ttlOf(key string) time.Duration {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	return kv.ttls[key]
}

func TestRedirectContext_ReadOnce(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetRedirectContext(ctx, "42", RedirectContext{URL: "https://example.com/pricing", City: "Lisbon"}))
	assert.Equal(t, 24*time.Hour, kv.ttlOf("ctx:redirect:42"))

	rc, err := store.GetRedirectContext(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, "https://example.com/pricing", rc.URL)
	assert.Equal(t, "Lisbon", rc.City)

	// The first read consumed the entry.
	rc, err = store.GetRedirectContext(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestRedirectContext_MissReturnsNil(t *testing.T) {
	store := NewStore(newFakeKV(), zap.NewNop())

	rc, err := store.GetRedirectContext(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestRedirectContext_MalformedEntryIsDropped(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, kv.SetWithTTL(ctx, "ctx:redirect:42", "{not json", time.Hour))

	rc, err := store.GetRedirectContext(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestOnboardingState_ReadMany(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetOnboardingStep(ctx, "42", "awaiting-name"))
	assert.Equal(t, time.Hour, kv.ttlOf("ctx:onboarding:42"))

	for i := 0; i < 3; i++ {
		state, err := store.GetOnboardingState(ctx, "42")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "awaiting-name", state.Step)
	}
}

func TestOnboardingState_StepOverwrite(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetOnboardingStep(ctx, "42", "awaiting-name"))
	require.NoError(t, store.SetOnboardingStep(ctx, "42", "awaiting-question"))

	state, err := store.GetOnboardingState(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, "awaiting-question", state.Step)
}

func TestClearOnboarding(t *testing.T) {
	kv := newFakeKV()
	store := NewStore(kv, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, store.SetOnboardingStep(ctx, "42", "awaiting-name"))
	require.NoError(t, store.ClearOnboarding(ctx, "42"))

	state, err := store.GetOnboardingState(ctx, "42")
	require.NoError(t, err)
	assert.Nil(t, state)
}
