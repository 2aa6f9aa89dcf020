package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mw "github.com/fatflowers/billsync/internal/app/api/middleware"
	"github.com/fatflowers/billsync/internal/app/service/billing"
	"github.com/fatflowers/billsync/internal/app/service/idempotency"
	notificationlog "github.com/fatflowers/billsync/internal/app/service/notification_log"
	nh "github.com/fatflowers/billsync/internal/app/service/notification_handler"
	"github.com/fatflowers/billsync/internal/app/service/reconcile"
	"github.com/fatflowers/billsync/internal/app/service/statistics"
	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/internal/platform/gateway/gatewaytest"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/internal/repository/repotest"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/ratelimit"
	"github.com/fatflowers/billsync/pkg/response"
	"github.com/fatflowers/billsync/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
	RegisterValidators()
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, notificationlog.Entry) {}

type testServer struct {
	r    *gin.Engine
	gw   *gatewaytest.Fake
	repo repository.Repository
	mr   *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Billing: config.BillingConfig{
			Prices:         map[string]string{"monthly": "price_monthly", "yearly": "price_yearly"},
			TrialDays:      7,
			RequestTimeout: 5 * time.Second,
		},
		Idempotency: config.IdempotencyConfig{TTL: 72 * time.Hour, KeyPrefix: "test:event:"},
		Reconcile: config.ReconcileConfig{
			CronSecret:  "cron",
			LockKey:     "test:reconcile:lock",
			LockTTL:     time.Minute,
			Concurrency: 2,
			ItemTimeout: time.Second,
		},
		Admin: config.AdminConfig{Token: "admin"},
	}
	log := zap.NewNop().Sugar()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedis(client)

	repo, _ := repotest.New(t)
	gw := gatewaytest.New()
	subs := subscription.NewService(repo, log)

	limiter, err := ratelimit.NewSlidingWindow(c, 3, time.Hour, "test:rl:")
	require.NoError(t, err)

	r := gin.New()
	api := r.Group("/api/v1")
	RegisterHealthRoutes(r, map[string]HealthCheck{"redis": c.Ping})
	RegisterWebhookRoutes(api.Group("/webhooks"),
		nh.NewHandler(cfg, gw, idempotency.NewStore(c, cfg, log), subs, nopRecorder{}, nil, log))

	cron := api.Group("/cron", mw.CronSecretMiddleware(cfg.Reconcile.CronSecret, log))
	RegisterCronRoutes(cron, reconcile.NewJob(cfg, repo, gw, c, nil, log), log)

	bill := api.Group("/billing", mw.UserIdentityMiddleware())
	RegisterBillingRoutes(bill, NewBillingHandlers(billing.NewService(cfg, gw, subs, c, log), log),
		mw.RateLimitMiddleware(limiter, "billing", nil, log))

	admin := api.Group("/admin", mw.AdminTokenMiddleware(cfg.Admin.Token))
	RegisterAdminRoutes(admin, repo, statistics.New(repo), log)

	return &testServer{r: r, gw: gw, repo: repo, mr: mr}
}

func (s *testServer) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf *bytes.Buffer
	switch b := body.(type) {
	case nil:
		buf = &bytes.Buffer{}
	case []byte:
		buf = bytes.NewBuffer(b)
	case string:
		buf = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		buf = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func (s *testServer) seed(t *testing.T, userID string, status types.SubscriptionStatus) *models.Subscription {
	t.Helper()
	end := time.Now().UTC().Add(20 * 24 * time.Hour).Truncate(time.Second)
	sub := &models.Subscription{
		UserID:           userID,
		ExternalID:       "sub_" + userID,
		CustomerID:       "cus_" + userID,
		Status:           status,
		BillingCycle:     types.BillingCycleMonthly,
		Amount:           990,
		PriceID:          "price_monthly",
		CurrentPeriodEnd: &end,
	}
	require.NoError(t, s.repo.CreateSubscription(context.Background(), sub))
	s.gw.Put(&gateway.Subscription{ID: sub.ExternalID, CustomerID: sub.CustomerID, Status: "active", PriceID: "price_monthly", CurrentPeriodEnd: &end})
	return sub
}

type envelope struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    json.RawMessage          `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func user(id string) map[string]string { return map[string]string{mw.HeaderUserID: id} }

func TestCheckout(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/v1/billing/checkout", map[string]string{"billing_cycle": "monthly"}, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	env := decode(t, w)
	assert.Equal(t, response.APIResponseCodeOK, env.Code)

	var res billing.CheckoutResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.NotEmpty(t, res.URL)
	require.Len(t, s.gw.Checkouts, 1)
	assert.Equal(t, "price_monthly", s.gw.Checkouts[0].PriceID)
}

func TestCheckoutValidation(t *testing.T) {
	s := newTestServer(t)

	cases := map[string]any{
		"missing cycle": map[string]string{},
		"unknown cycle": map[string]string{"billing_cycle": "weekly"},
		"unknown field": map[string]string{"billing_cycle": "monthly", "price_id": "price_free"},
		"not json":      "{",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			// One user per case keeps the billing rate limit out of the way.
			w := s.do(http.MethodPost, "/api/v1/billing/checkout", body, user("u-"+strings.ReplaceAll(name, " ", "-")))
			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, response.APIResponseCodeBadRequest, decode(t, w).Code)
		})
	}
	assert.Empty(t, s.gw.Checkouts)
}

func TestCheckoutConflictWhenActive(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)

	w := s.do(http.MethodPost, "/api/v1/billing/checkout", map[string]string{"billing_cycle": "yearly"}, user("u1"))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, response.APIResponseCodeConflict, decode(t, w).Code)
}

func TestBillingRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/v1/billing/checkout", map[string]string{"billing_cycle": "monthly"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCancel(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)

	// The body is optional.
	w := s.do(http.MethodPost, "/api/v1/billing/cancel", nil, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res billing.CancelResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.True(t, res.CancelAtPeriodEnd)
	assert.Equal(t, types.SubscriptionStatusActive, res.Status)
	require.NotNil(t, res.EffectiveAt)
	require.Len(t, s.gw.Updates, 1)
	assert.True(t, lo.FromPtr(s.gw.Updates[0].Params.CancelAtPeriodEnd))
}

func TestCancelWithoutSubscriptionIsNotFound(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/v1/billing/cancel", map[string]string{"reason": "too expensive"}, user("u1"))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.gw.Updates)
}

func TestGatewayFailureIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)
	s.gw.Err = fmt.Errorf("%w: connection reset", gateway.ErrUnavailable)

	w := s.do(http.MethodPost, "/api/v1/billing/cancel", nil, user("u1"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	sub, err := s.repo.FindSubscriptionByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestChangePlanAndPortal(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)

	w := s.do(http.MethodPost, "/api/v1/billing/change-plan", map[string]string{"billing_cycle": "YEARLY"}, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plan billing.ChangePlanResult
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &plan))
	assert.Equal(t, "price_yearly", plan.PriceID)
	assert.True(t, plan.Pending)

	w = s.do(http.MethodPost, "/api/v1/billing/portal", nil, user("u1"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, s.gw.Portals, 1)
	assert.Equal(t, "cus_u1", s.gw.Portals[0].CustomerID)
}

func TestGetSubscription(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/billing/subscription", nil, user("u1"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.seed(t, "u1", types.SubscriptionStatusPastDue)
	w = s.do(http.MethodGet, "/api/v1/billing/subscription", nil, user("u1"))
	require.Equal(t, http.StatusOK, w.Code)
	var info types.UserSubscriptionInfo
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &info))
	assert.Equal(t, types.SubscriptionStatusPastDue, info.Status)
}

func TestBillingMutationsAreRateLimited(t *testing.T) {
	s := newTestServer(t)

	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/api/v1/billing/portal", nil, user("u1"))
		require.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
	w := s.do(http.MethodPost, "/api/v1/billing/checkout", map[string]string{"billing_cycle": "monthly"}, user("u1"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(mw.HeaderRetryAfter))
	assert.Empty(t, s.gw.Checkouts)

	// Reads are not limited.
	assert.NotEqual(t, http.StatusTooManyRequests, s.do(http.MethodGet, "/api/v1/billing/subscription", nil, user("u1")).Code)
}

func TestWebhook(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)
	body, sig := gatewaytest.SignedEvent(t, "evt_1", gateway.EventSubscriptionUpdated,
		map[string]any{"id": "sub_u1", "object": "subscription", "customer": "cus_u1", "status": "past_due"})
	header := map[string]string{HeaderStripeSignature: sig}

	w := s.do(http.MethodPost, "/api/v1/webhooks/stripe", body, header)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res nh.Result
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, nh.OutcomeHandled, res.Outcome)

	w = s.do(http.MethodPost, "/api/v1/webhooks/stripe", body, header)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &res))
	assert.Equal(t, nh.OutcomeDuplicate, res.Outcome)

	sub, err := s.repo.FindSubscriptionByUserID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, types.SubscriptionStatusPastDue, sub.Status)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	s := newTestServer(t)
	body, _ := gatewaytest.SignedEvent(t, "evt_1", gateway.EventSubscriptionUpdated,
		map[string]any{"id": "sub_u1", "object": "subscription", "status": "active"})

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/v1/webhooks/stripe", body, nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/api/v1/webhooks/stripe", body, map[string]string{HeaderStripeSignature: "t=1,v1=deadbeef"}).Code)
}

func TestWebhookFailureAsksForRedelivery(t *testing.T) {
	s := newTestServer(t)
	s.gw.Err = fmt.Errorf("%w: timeout", gateway.ErrUnavailable)
	body, sig := gatewaytest.SignedEvent(t, "evt_1", gateway.EventCheckoutSessionCompleted, map[string]any{
		"id": "cs_1", "object": "checkout.session", "mode": "subscription",
		"client_reference_id": "u1", "customer": "cus_1", "subscription": "sub_1",
	})
	w := s.do(http.MethodPost, "/api/v1/webhooks/stripe", body, map[string]string{HeaderStripeSignature: sig})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestReconcileEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)
	s.seed(t, "u2", types.SubscriptionStatusActive)
	s.gw.Put(&gateway.Subscription{ID: "sub_u2", Status: "canceled"})

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/cron/reconcile", nil, nil).Code)

	w := s.do(http.MethodPost, "/api/v1/cron/reconcile", nil, map[string]string{"Authorization": "Bearer cron"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report reconcile.Report
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &report))
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Mismatches)
	require.Len(t, report.Details, 1)
	assert.Equal(t, "CANCELED", report.Details[0].StripeStatus)

	// The lock is only released by expiry.
	w = s.do(http.MethodPost, "/api/v1/cron/reconcile", nil, map[string]string{"x-cron-secret": "cron"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"skipped":true}`, string(decode(t, w).Data))
}

func TestReconcileLockUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.mr.SetError("ERR injected failure")

	w := s.do(http.MethodPost, "/api/v1/cron/reconcile", nil, map[string]string{"Authorization": "Bearer cron"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminListSubscriptions(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "u1", types.SubscriptionStatusActive)
	s.seed(t, "u2", types.SubscriptionStatusPastDue)
	admin := map[string]string{mw.HeaderAdminToken: "admin"}

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/v1/admin/subscriptions", nil, nil).Code)

	w := s.do(http.MethodPost, "/api/v1/admin/subscriptions", map[string]any{
		"filters": []map[string]any{{"field": "status", "operator": "eq", "values": []string{"PAST_DUE"}}},
	}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list ListSubscriptionsResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	require.Equal(t, int64(1), list.Total)
	assert.Equal(t, "u2", list.Items[0].UserID)

	w = s.do(http.MethodPost, "/api/v1/admin/subscriptions", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &list))
	assert.Equal(t, int64(2), list.Total)

	w = s.do(http.MethodPost, "/api/v1/admin/subscriptions", map[string]any{"sort_by": "deleted_at"}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminListPaymentsAndStatistics(t *testing.T) {
	s := newTestServer(t)
	sub := s.seed(t, "u1", types.SubscriptionStatusActive)
	_, err := s.repo.AppendPayment(context.Background(), &models.Payment{
		SubscriptionID: sub.ID, ExternalID: "in_1", Amount: 990, Status: types.PaymentStatusSucceeded,
	})
	require.NoError(t, err)
	admin := map[string]string{mw.HeaderAdminToken: "admin"}

	w := s.do(http.MethodPost, "/api/v1/admin/payments", map[string]any{"size": 5}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var payments ListPaymentsResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &payments))
	assert.Equal(t, int64(1), payments.Total)

	w = s.do(http.MethodPost, "/api/v1/admin/statistics", map[string]any{
		"data_items": []map[string]string{{"id": "subscription_count"}, {"id": "payment_totals"}},
	}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats statistics.StatisticResponse
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &stats))
	assert.Contains(t, stats.DataItems, statistics.StatisticTypeSubscriptionCount)
	assert.Contains(t, stats.DataItems, statistics.StatisticTypePaymentTotals)

	w = s.do(http.MethodPost, "/api/v1/admin/statistics", map[string]any{
		"data_items": []map[string]string{{"id": "churn"}},
	}, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	s.mr.SetError("ERR injected failure")
	w = s.do(http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want response.APIResponseCode
	}{
		{subscription.ErrSubscriptionNotFound, response.APIResponseCodeNotFound},
		{fmt.Errorf("wrapped: %w", subscription.ErrSubscriptionActive), response.APIResponseCodeConflict},
		{subscription.ErrInvalidTransition, response.APIResponseCodeConflict},
		{billing.ErrNoCustomer, response.APIResponseCodeConflict},
		{billing.ErrPriceNotResolvable, response.APIResponseCodeBadRequest},
		{gateway.ErrUnavailable, response.APIResponseCodeUnavailable},
		{context.DeadlineExceeded, response.APIResponseCodeUnavailable},
		{errors.New("boom"), response.APIResponseCodeError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, errorCode(tc.err), tc.err.Error())
	}
}
