package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/internal/repository/repotest"
	"github.com/fatflowers/billsync/pkg/types"
)

func newTestService(t *testing.T) (*Service, repository.Repository, *gorm.DB) {
	t.Helper()
	repo, gdb := repotest.New(t)
	svc := NewService(repo, zap.NewNop().Sugar())
	svc.now = func() time.Time { return testNow }
	return svc, repo, gdb
}

func seed(t *testing.T, repo repository.Repository) *models.Subscription {
	t.Helper()
	sub := activeSub()
	require.NoError(t, repo.CreateSubscription(context.Background(), sub))
	return sub
}

func countRows(t *testing.T, gdb *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, gdb.Model(model).Count(&n).Error)
	return n
}

func TestApplyReplayIsIdempotent(t *testing.T) {
	svc, repo, gdb := newTestService(t)
	ctx := context.Background()
	seed(t, repo)

	ev := GatewayStatusReported{Status: "past_due"}
	out, err := svc.ApplyToExternal(ctx, "sub_1", "evt_1", ev)
	require.NoError(t, err)
	assert.True(t, out.Changed)

	out, err = svc.ApplyToExternal(ctx, "sub_1", "evt_1", ev)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPastDue, got.Status)
	assert.Equal(t, int64(0), countRows(t, gdb, &models.Payment{}))
	assert.Equal(t, int64(1), countRows(t, gdb, &models.SubscriptionLog{}))

	var entry models.SubscriptionLog
	require.NoError(t, gdb.Take(&entry).Error)
	assert.Equal(t, "evt_1", entry.EventID)
	assert.Equal(t, types.SubscriptionChangeReasonGatewayStatus, entry.Reason)
	assert.Equal(t, types.SubscriptionStatusActive, entry.Before.Data().Status)
	assert.Equal(t, types.SubscriptionStatusPastDue, entry.After.Data().Status)
}

func TestApplyPaymentOnce(t *testing.T) {
	svc, repo, gdb := newTestService(t)
	ctx := context.Background()
	sub := seed(t, repo)

	periodEnd := sub.CurrentPeriodEnd.Add(30 * 24 * time.Hour)
	ev := PaymentReported{InvoiceID: "in_1", Amount: 990, Status: types.PaymentStatusSucceeded, PeriodEnd: &periodEnd, Renewal: true}
	for range 2 {
		_, err := svc.ApplyToExternal(ctx, "sub_1", "evt_paid", ev)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), countRows(t, gdb, &models.Payment{}))
	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, got.CurrentPeriodEnd.Equal(periodEnd))
}

func TestApplyPaymentRecoveredAfterFailure(t *testing.T) {
	svc, repo, gdb := newTestService(t)
	ctx := context.Background()
	seed(t, repo)

	_, err := svc.ApplyToExternal(ctx, "sub_1", "evt_failed", PaymentReported{InvoiceID: "in_1", Attempt: 1, Amount: 990, Status: types.PaymentStatusFailed})
	require.NoError(t, err)
	_, err = svc.ApplyToExternal(ctx, "sub_1", "evt_paid", PaymentReported{InvoiceID: "in_1", Attempt: 2, Amount: 990, Status: types.PaymentStatusSucceeded})
	require.NoError(t, err)

	var succeeded int64
	require.NoError(t, gdb.Model(&models.Payment{}).
		Where("external_id = ? AND status = ?", "in_1", types.PaymentStatusSucceeded).Count(&succeeded).Error)
	assert.Equal(t, int64(1), succeeded)
	assert.Equal(t, int64(2), countRows(t, gdb, &models.Payment{}))
}

func TestApplyUnknownExternalID(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ApplyToExternal(context.Background(), "sub_missing", "evt_1", GatewayStatusReported{Status: "active"})
	require.ErrorIs(t, err, ErrSubscriptionNotFound)
}

func TestApplyCheckoutCreatesRow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	ev := CheckoutCompleted{UserID: "u9", ExternalID: "sub_9", CustomerID: "cus_9", Cycle: types.BillingCycleMonthly, Amount: 990}
	out, err := svc.ApplyToUser(ctx, "u9", "evt_checkout", ev)
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.NotEmpty(t, out.Next.ID)

	out, err = svc.ApplyToUser(ctx, "u9", "evt_checkout", ev)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	_, err = svc.ApplyToUser(ctx, "u9", "evt_other", CheckoutCompleted{UserID: "u9", ExternalID: "sub_10"})
	require.ErrorIs(t, err, ErrSubscriptionActive)
}

func TestApplyCancelKeepsStatus(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	seed(t, repo)

	out, err := svc.ApplyToUser(ctx, "u1", "", CancelRequested{Comment: "too expensive"})
	require.NoError(t, err)
	require.Len(t, out.Effects, 1)

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusActive, got.Status)
	assert.Equal(t, "too expensive", lo.FromPtr(got.CancelReason))
	assert.Nil(t, got.CanceledAt)
}

func TestEvaluateDoesNotPersist(t *testing.T) {
	svc, repo, gdb := newTestService(t)
	ctx := context.Background()
	seed(t, repo)

	out, err := svc.Evaluate(ctx, "u1", CancelRequested{Comment: "later"})
	require.NoError(t, err)
	assert.True(t, out.Changed)

	got, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.CancelReason)
	assert.Equal(t, int64(0), countRows(t, gdb, &models.SubscriptionLog{}))

	_, err = svc.Get(ctx, "nobody")
	require.ErrorIs(t, err, ErrSubscriptionNotFound)
}
