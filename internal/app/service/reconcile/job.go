// Package reconcile compares locally stored subscription status with the
// gateway's and reports drift. It never writes subscription rows.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/metrics"
	"github.com/fatflowers/billsync/pkg/types"
)

// ErrLockUnavailable means the lock could not be checked, not that it is held.
var ErrLockUnavailable = errors.New("reconcile lock unavailable")

// StatusMissing is reported when the gateway no longer knows the subscription.
const StatusMissing = "MISSING"

const pageSize = 200

type Mismatch struct {
	ID           string                   `json:"id"`
	UserID       string                   `json:"user_id"`
	ExternalID   string                   `json:"external_id"`
	DBStatus     types.SubscriptionStatus `json:"dbStatus"`
	StripeStatus string                   `json:"stripeStatus"`
}

type Report struct {
	Skipped    bool        `json:"skipped,omitempty"`
	Checked    int         `json:"checked"`
	Mismatches int         `json:"mismatches"`
	Errors     int         `json:"errors"`
	Details    []*Mismatch `json:"details"`
}

// MarshalJSON renders a skipped run as {"skipped":true} alone.
func (r Report) MarshalJSON() ([]byte, error) {
	if r.Skipped {
		return []byte(`{"skipped":true}`), nil
	}
	type report Report
	out := report(r)
	if out.Details == nil {
		out.Details = []*Mismatch{}
	}
	return json.Marshal(out)
}

type Job struct {
	repo    repository.Repository
	gw      gateway.Gateway
	cache   cache.Cache
	cfg     config.ReconcileConfig
	metrics *metrics.Billing
	log     *zap.SugaredLogger
	now     func() time.Time
}

func NewJob(cfg *config.Config, repo repository.Repository, gw gateway.Gateway, c cache.Cache, m *metrics.Billing, log *zap.SugaredLogger) *Job {
	return &Job{
		repo:    repo,
		gw:      gw,
		cache:   c,
		cfg:     cfg.Reconcile,
		metrics: m,
		log:     log,
		now:     time.Now,
	}
}

// Run performs one sweep unless another instance holds the lock. The lock is
// never released explicitly; it expires after the configured TTL so a crashed
// sweep cannot wedge the next one.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	start := j.now()
	log := logctx.FromCtx(ctx, j.log)

	acquired, err := j.cache.SetNX(ctx, j.cfg.LockKey, start.UTC().Format(time.RFC3339), j.cfg.LockTTL)
	if err != nil {
		j.metrics.ReconcileRun("lock_error", 0)
		return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	if !acquired {
		log.Infow("reconcile_skipped", "reason", "lock_held")
		j.metrics.ReconcileRun("skipped", 0)
		return &Report{Skipped: true}, nil
	}

	report := &Report{Details: []*Mismatch{}}
	var mu sync.Mutex
	after := ""
	for {
		rows, err := j.repo.ListSubscriptionsByStatus(ctx, types.NonTerminalSubscriptionStatuses, after, pageSize)
		if err != nil {
			j.metrics.ReconcileRun("failed", 0)
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, j.cfg.Concurrency))
		for _, row := range rows {
			g.Go(func() error {
				m, err := j.check(gctx, row)
				mu.Lock()
				defer mu.Unlock()
				report.Checked++
				if err != nil {
					report.Errors++
					log.Errorw("reconcile_check_failed", "subscription_id", row.ID, "external_id", row.ExternalID, "error", err)
					return nil
				}
				if m != nil {
					report.Mismatches++
					report.Details = append(report.Details, m)
					log.Errorw("reconcile_mismatch",
						"subscription_id", m.ID,
						"user_id", m.UserID,
						"external_id", m.ExternalID,
						"db_status", m.DBStatus,
						"stripe_status", m.StripeStatus,
					)
				}
				return nil
			})
		}
		// Per-item failures are recorded above; the group itself never fails.
		_ = g.Wait()

		after = rows[len(rows)-1].ID
		if len(rows) < pageSize {
			break
		}
	}

	j.metrics.ReconcileRun("completed", report.Mismatches)
	j.metrics.ObserveProcess("reconcile", "sweep", start)
	log.Infow("reconcile_completed",
		"checked", report.Checked,
		"mismatches", report.Mismatches,
		"errors", report.Errors,
		"elapsed_ms", metrics.MillisecondsSince(start),
	)
	return report, nil
}

// check compares one row with the gateway and returns a Mismatch on drift.
func (j *Job) check(ctx context.Context, row *models.Subscription) (*Mismatch, error) {
	if j.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.ItemTimeout)
		defer cancel()
	}

	mismatch := &Mismatch{ID: row.ID, UserID: row.UserID, ExternalID: row.ExternalID, DBStatus: row.Status}
	remote, err := j.gw.RetrieveSubscription(ctx, row.ExternalID)
	if errors.Is(err, gateway.ErrNotFound) {
		mismatch.StripeStatus = StatusMissing
		return mismatch, nil
	}
	if err != nil {
		return nil, err
	}

	status, ok := subscription.MapGatewayStatus(remote.Status)
	if !ok {
		mismatch.StripeStatus = remote.Status
		return mismatch, nil
	}
	if status == row.Status {
		return nil, nil
	}
	mismatch.StripeStatus = string(status)
	return mismatch, nil
}
