// Package idempotency records which gateway events have already been applied.
// Markers are TTL'd keys in the shared cache so every instance sees them.
package idempotency

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/logctx"
)

type Store struct {
	cache  cache.Cache
	ttl    time.Duration
	prefix string
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewStore(c cache.Cache, cfg *config.Config, log *zap.SugaredLogger) *Store {
	return &Store{
		cache:  c,
		ttl:    cfg.Idempotency.TTL,
		prefix: cfg.Idempotency.KeyPrefix,
		log:    log,
		now:    time.Now,
	}
}

func (s *Store) key(eventID string) string { return s.prefix + eventID }

// HasProcessed reports whether eventID was marked. A cache failure is logged
// and treated as "not processed"; applying an event twice is a no-op.
func (s *Store) HasProcessed(ctx context.Context, eventID string) bool {
	_, err := s.cache.Get(ctx, s.key(eventID))
	switch {
	case err == nil:
		return true
	case errors.Is(err, cache.ErrCacheMiss):
		return false
	default:
		logctx.FromCtx(ctx, s.log).Warnw("idempotency_check_failed", "event_id", eventID, "error", err)
		return false
	}
}

// MarkProcessed stores the processing time under eventID. Failures are logged
// and never returned; the caller has already persisted the effect.
func (s *Store) MarkProcessed(ctx context.Context, eventID string) {
	value := s.now().UTC().Format(time.RFC3339)
	if err := s.cache.Set(ctx, s.key(eventID), value, s.ttl); err != nil {
		logctx.FromCtx(ctx, s.log).Errorw("idempotency_mark_failed", "event_id", eventID, "error", err)
	}
}

var Module = fx.Options(
	fx.Provide(NewStore),
)
