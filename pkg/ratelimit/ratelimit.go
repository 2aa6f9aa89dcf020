// Package ratelimit implements a sliding-window-counter limiter whose counters
// live in a shared cache, so every running instance sees the same budget.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"
)

var (
	ErrKeyRequired   = errors.New("ratelimit: key is required")
	ErrInvalidLimit  = errors.New("ratelimit: limit must be positive")
	ErrInvalidWindow = errors.New("ratelimit: window must be positive")
	ErrStoreRequired = errors.New("ratelimit: store is required")
)

// Store is the slice of the shared cache the limiter needs.
type Store interface {
	// IncrWithExpire increments key and makes sure it expires after ttl.
	IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// GetInt returns the counter stored at key, or 0 when it does not exist.
	GetInt(ctx context.Context, key string) (int64, error)
}

// Result contains the result of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	now       time.Time
}

// RetryAfter returns how long to wait before the next request is allowed.
// Returns 0 if the current request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed {
		return 0
	}
	return r.ResetAt.Sub(r.now)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1, for the Retry-After header.
func (r *Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	return max(1, int(math.Ceil(r.RetryAfter().Seconds())))
}

type Limiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// SlidingWindow weights the previous fixed window by how much of it still
// overlaps the sliding window and adds the current window's count.
// Rejected attempts are counted too, so a client hammering the endpoint stays limited.
type SlidingWindow struct {
	store  Store
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewSlidingWindow(store Store, limit int, window time.Duration, prefix string) (*SlidingWindow, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if window <= 0 {
		return nil, ErrInvalidWindow
	}
	return &SlidingWindow{store: store, limit: limit, window: window, prefix: prefix, now: time.Now}, nil
}

func (sw *SlidingWindow) Allow(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrKeyRequired
	}
	now := sw.now()
	curStart := now.Truncate(sw.window)
	prevStart := curStart.Add(-sw.window)

	current, err := sw.store.IncrWithExpire(ctx, sw.bucketKey(key, curStart), 2*sw.window)
	if err != nil {
		return nil, err
	}
	previous, err := sw.store.GetInt(ctx, sw.bucketKey(key, prevStart))
	if err != nil {
		return nil, err
	}

	elapsed := float64(now.Sub(curStart)) / float64(sw.window)
	weighted := float64(previous)*(1-elapsed) + float64(current)

	res := &Result{
		Allowed:   weighted <= float64(sw.limit),
		Limit:     sw.limit,
		Remaining: max(0, sw.limit-int(math.Ceil(weighted))),
		ResetAt:   curStart.Add(sw.window),
		now:       now,
	}
	if !res.Allowed {
		res.ResetAt = sw.unblockAt(curStart, current)
	}
	return res, nil
}

// unblockAt estimates when the weighted count first leaves room for one request,
// assuming no further traffic: after the current window rolls over, its count
// decays linearly across the next window.
func (sw *SlidingWindow) unblockAt(curStart time.Time, current int64) time.Time {
	next := curStart.Add(sw.window)
	if current <= int64(sw.limit-1) {
		return next
	}
	frac := 1 - float64(sw.limit-1)/float64(current)
	return next.Add(time.Duration(frac * float64(sw.window)))
}

func (sw *SlidingWindow) bucketKey(key string, start time.Time) string {
	return sw.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)
}
