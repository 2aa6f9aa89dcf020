package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/types"
)

// resolvePrice prefers a configured price id and falls back to the gateway's
// lookup key, caching the answer in the shared cache.
func (s *Service) resolvePrice(ctx context.Context, cycle types.BillingCycle) (string, error) {
	if id := s.cfg.PriceID(cycle); id != "" {
		return id, nil
	}
	lookupKey := s.cfg.PriceLookupKey(cycle)
	if lookupKey == "" {
		return "", fmt.Errorf("%w: %s", ErrPriceNotResolvable, cycle)
	}

	log := logctx.FromCtx(ctx, s.log)
	key := priceCachePrefix + lookupKey
	id, err := s.cache.Get(ctx, key)
	switch {
	case err == nil && id != "":
		return id, nil
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		log.Warnw("price_cache_read_failed", "lookup_key", lookupKey, "error", err)
	}

	id, err = s.gw.LookupPrice(ctx, lookupKey)
	if errors.Is(err, gateway.ErrNotFound) {
		return "", fmt.Errorf("%w: %s", ErrPriceNotResolvable, cycle)
	}
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, key, id, s.cfg.Billing.PriceCacheTTL); err != nil {
		log.Warnw("price_cache_write_failed", "lookup_key", lookupKey, "error", err)
	}
	return id, nil
}
