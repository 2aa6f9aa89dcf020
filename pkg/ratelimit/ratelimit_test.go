package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string]int64
	err  error
}

func newMemStore() *memStore { return &memStore{data: map[string]int64{}} }

func (m *memStore) IncrWithExpire(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.data[key]++
	return m.data[key], nil
}

func (m *memStore) GetInt(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], m.err
}

func newTestLimiter(t *testing.T, store Store, now *time.Time) *SlidingWindow {
	t.Helper()
	sw, err := NewSlidingWindow(store, 5, time.Minute, "rl:")
	require.NoError(t, err)
	sw.now = func() time.Time { return *now }
	return sw
}

func TestSlidingWindowAllowsUpToLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	sw := newTestLimiter(t, newMemStore(), &now)

	for i := 0; i < 5; i++ {
		res, err := sw.Allow(context.Background(), "u1:billing")
		require.NoError(t, err)
		require.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res, err := sw.Allow(context.Background(), "u1:billing")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.GreaterOrEqual(t, res.RetryAfterSeconds(), 60)

	other, err := sw.Allow(context.Background(), "u2:billing")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")
}

func TestSlidingWindowWeighsPreviousWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 0, 30, 0, time.UTC)
	store := newMemStore()
	sw := newTestLimiter(t, store, &now)

	for i := 0; i < 5; i++ {
		_, err := sw.Allow(context.Background(), "k")
		require.NoError(t, err)
	}

	// 5s into the next window: 5*(55/60) + 1 > 5
	now = time.Date(2026, 1, 1, 10, 1, 5, 0, time.UTC)
	res, err := sw.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// 45s in: 5*(15/60) + 2 <= 5
	now = time.Date(2026, 1, 1, 10, 1, 45, 0, time.UTC)
	res, err = sw.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestSlidingWindowStoreError(t *testing.T) {
	now := time.Now()
	store := newMemStore()
	store.err = errors.New("cache down")
	sw := newTestLimiter(t, store, &now)

	_, err := sw.Allow(context.Background(), "k")
	require.Error(t, err)
}

func TestNewSlidingWindowValidation(t *testing.T) {
	_, err := NewSlidingWindow(nil, 1, time.Second, "")
	require.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewSlidingWindow(newMemStore(), 0, time.Second, "")
	require.ErrorIs(t, err, ErrInvalidLimit)
	_, err = NewSlidingWindow(newMemStore(), 1, 0, "")
	require.ErrorIs(t, err, ErrInvalidWindow)
}
