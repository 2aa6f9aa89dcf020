package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/internal/repository/repotest"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/types"
)

type fixture struct {
	job  *Job
	gw   *gatewaytest.Fake
	repo repository.Repository
	mr   *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{Reconcile: config.ReconcileConfig{
		LockKey:     "test:reconcile:lock",
		LockTTL:     5 * time.Minute,
		Concurrency: 4,
		ItemTimeout: time.Second,
	}}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo, _ := repotest.New(t)
	gw := gatewaytest.New()
	return &fixture{
		job:  NewJob(cfg, repo, gw, cache.NewRedis(client), nil, zap.NewNop().Sugar()),
		gw:   gw,
		repo: repo,
		mr:   mr,
	}
}

// add stores a local row and the gateway's view of it.
func (f *fixture) add(t *testing.T, userID string, local types.SubscriptionStatus, remote string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		UserID:       userID,
		ExternalID:   "sub_" + userID,
		CustomerID:   "cus_" + userID,
		Status:       local,
		BillingCycle: types.BillingCycleMonthly,
	}
	require.NoError(t, f.repo.CreateSubscription(context.Background(), sub))
	if remote != "" {
		f.gw.Put(&gateway.Subscription{ID: sub.ExternalID, Status: remote})
	}
	return sub
}

func TestRunReportsMismatchWithoutRepair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	drifted := f.add(t, "u1", types.SubscriptionStatusActive, "canceled")
	f.add(t, "u2", types.SubscriptionStatusActive, "active")
	f.add(t, "u3", types.SubscriptionStatusPastDue, "past_due")

	report, err := f.job.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 1, report.Mismatches)
	require.Len(t, report.Details, 1)
	assert.Equal(t, &Mismatch{
		ID:           drifted.ID,
		UserID:       "u1",
		ExternalID:   "sub_u1",
		DBStatus:     types.SubscriptionStatusActive,
		StripeStatus: "CANCELED",
	}, report.Details[0])

	got, err := f.repo.FindSubscriptionByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
}

func TestRunSkipsTerminalRows(t *testing.T) {
	f := newFixture(t)
	f.add(t, "u1", types.SubscriptionStatusCanceled, "active")
	f.add(t, "u2", types.SubscriptionStatusSuspended, "active")
	f.add(t, "u3", types.SubscriptionStatusTrialing, "trialing")

	report, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Mismatches)
	assert.Equal(t, 1, f.gw.Retrieves)
}

func TestConcurrentRunsSweepOnce(t *testing.T) {
	f := newFixture(t)
	f.add(t, "u1", types.SubscriptionStatusActive, "active")
	f.gw.Delay = 50 * time.Millisecond

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.job.Run(context.Background())
			assert.NoError(t, err)
			reports[i] = r
		}()
	}
	wg.Wait()

	skipped := 0
	for _, r := range reports {
		require.NotNil(t, r)
		if r.Skipped {
			skipped++
		}
	}
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, f.gw.Retrieves)

	// The lock is released only by expiry.
	r, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, r.Skipped)

	f.mr.FastForward(6 * time.Minute)
	r, err = f.job.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, r.Skipped)
}

func TestRunContinuesPastItemErrors(t *testing.T) {
	f := newFixture(t)
	f.add(t, "u1", types.SubscriptionStatusActive, "active")
	f.add(t, "u2", types.SubscriptionStatusActive, "active")
	f.add(t, "u3", types.SubscriptionStatusActive, "")
	f.add(t, "u4", types.SubscriptionStatusActive, "incomplete")
	f.gw.RetrieveErr["sub_u2"] = gateway.ErrUnavailable

	report, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 2, report.Mismatches)

	byUser := map[string]string{}
	for _, m := range report.Details {
		byUser[m.UserID] = m.StripeStatus
	}
	assert.Equal(t, map[string]string{"u3": StatusMissing, "u4": "incomplete"}, byUser)
}

func TestRunItemTimeout(t *testing.T) {
	f := newFixture(t)
	f.add(t, "u1", types.SubscriptionStatusActive, "active")
	f.job.cfg.ItemTimeout = 10 * time.Millisecond
	f.gw.Delay = time.Second

	report, err := f.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
}

type brokenCache struct{ cache.Cache }

func (brokenCache) SetNX(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRunLockUnavailable(t *testing.T) {
	f := newFixture(t)
	f.job.cache = brokenCache{}

	_, err := f.job.Run(context.Background())
	require.ErrorIs(t, err, ErrLockUnavailable)
}

func TestSchedulerRunsUntilStopped(t *testing.T) {
	f := newFixture(t)
	f.add(t, "u1", types.SubscriptionStatusActive, "active")

	s := NewScheduler(f.job, 5*time.Millisecond, zap.NewNop().Sugar())
	s.Start()
	require.Eventually(t, func() bool {
		return f.gw.RetrieveCount() > 0
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestReportJSON(t *testing.T) {
	b, err := json.Marshal(&Report{Skipped: true, Checked: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"skipped":true}`, string(b))

	b, err = json.Marshal(Report{Checked: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"checked":2,"mismatches":0,"errors":0,"details":[]}`, string(b))
}
