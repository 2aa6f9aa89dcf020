package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/pkg/config"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cfg := &config.Config{Idempotency: config.IdempotencyConfig{TTL: 72 * time.Hour, KeyPrefix: "test:event:"}}
	return NewStore(cache.NewRedis(client), cfg, zap.NewNop().Sugar()), mr
}

func TestStoreMarksAndExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

	assert.False(t, s.HasProcessed(ctx, "evt_1"))
	s.MarkProcessed(ctx, "evt_1")
	assert.True(t, s.HasProcessed(ctx, "evt_1"))
	assert.False(t, s.HasProcessed(ctx, "evt_2"))

	v, err := mr.Get("test:event:evt_1")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01T12:00:00Z", v)
	assert.Equal(t, 72*time.Hour, mr.TTL("test:event:evt_1"))

	mr.FastForward(73 * time.Hour)
	assert.False(t, s.HasProcessed(ctx, "evt_1"))
}

type brokenCache struct{ cache.Cache }

func (brokenCache) Get(context.Context, string) (string, error) {
	return "", errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, string, time.Duration) error {
	return errors.New("connection refused")
}

func TestStoreFailsOpen(t *testing.T) {
	cfg := &config.Config{Idempotency: config.IdempotencyConfig{TTL: time.Hour, KeyPrefix: "p:"}}
	s := NewStore(brokenCache{}, cfg, zap.NewNop().Sugar())

	assert.False(t, s.HasProcessed(context.Background(), "evt_1"))
	assert.NotPanics(t, func() { s.MarkProcessed(context.Background(), "evt_1") })
}
