// Package billing implements the user-initiated mutations. Each one asks the
// gateway for a change; local state only records what the gateway accepted.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/types"
)

var (
	ErrPriceNotResolvable = errors.New("no price available for billing cycle")
	ErrNoCustomer         = errors.New("subscription has no gateway customer")
)

const priceCachePrefix = "billsync:price:"

// checkoutKeyWindow bounds how long a retried checkout reuses the same session.
const checkoutKeyWindow = 10 * time.Minute

type Subscriptions interface {
	Get(ctx context.Context, userID string) (*models.Subscription, error)
	Evaluate(ctx context.Context, userID string, ev subscription.Event) (*subscription.Outcome, error)
	ApplyToUser(ctx context.Context, userID, eventID string, ev subscription.Event) (*subscription.Outcome, error)
}

type Service struct {
	cfg   *config.Config
	gw    gateway.Gateway
	subs  Subscriptions
	cache cache.Cache
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewService(cfg *config.Config, gw gateway.Gateway, subs Subscriptions, c cache.Cache, log *zap.SugaredLogger) *Service {
	return &Service{cfg: cfg, gw: gw, subs: subs, cache: c, log: log, now: time.Now}
}

type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type CancelResult struct {
	Status            types.SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	// EffectiveAt is when access ends.
	EffectiveAt *time.Time `json:"effective_at"`
}

type ChangePlanResult struct {
	BillingCycle types.BillingCycle `json:"billing_cycle"`
	PriceID      string             `json:"price_id"`
	// Pending stays true until the gateway confirms the new plan by webhook.
	Pending bool `json:"pending"`
}

type PortalResult struct {
	URL string `json:"url"`
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Billing.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Billing.RequestTimeout)
}

// current returns the user's row or nil when there is none.
func (s *Service) current(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subs.Get(ctx, userID)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, nil
	}
	return sub, err
}

// Checkout opens a hosted checkout session. The subscription row is created
// later, when the gateway reports the completed session.
func (s *Service) Checkout(ctx context.Context, userID string, cycle types.BillingCycle) (*CheckoutResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	current, err := s.current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current != nil && current.Status.Live() {
		return nil, subscription.ErrSubscriptionActive
	}
	priceID, err := s.resolvePrice(ctx, cycle)
	if err != nil {
		return nil, err
	}

	params := gateway.CheckoutSessionParams{
		UserID:         userID,
		PriceID:        priceID,
		BillingCycle:   cycle,
		SuccessURL:     s.cfg.Billing.SuccessURL,
		CancelURL:      s.cfg.Billing.CancelURL,
		IdempotencyKey: fmt.Sprintf("checkout-%s-%s-%d", userID, cycle.Key(), s.now().Unix()/int64(checkoutKeyWindow.Seconds())),
	}
	if current != nil {
		params.CustomerID = current.CustomerID
	} else {
		// Trials are for first-time subscribers only.
		params.TrialDays = s.cfg.Billing.TrialDays
	}

	sess, err := s.gw.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, err
	}
	logctx.FromCtx(ctx, s.log).Infow("checkout_session_created", "session_id", sess.ID, "billing_cycle", cycle)
	return &CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

// Cancel schedules cancellation at the end of the paid period. The local row
// keeps its status until the gateway reports the cancellation.
func (s *Service) Cancel(ctx context.Context, userID, reason string) (*CancelResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ev := subscription.CancelRequested{Comment: reason}
	planned, err := s.subs.Evaluate(ctx, userID, ev)
	if err != nil {
		return nil, err
	}

	var confirmed *gateway.Subscription
	for _, effect := range planned.Effects {
		req, ok := effect.(subscription.RequestCancelAtPeriodEnd)
		if !ok {
			continue
		}
		confirmed, err = s.gw.UpdateSubscription(ctx, req.ExternalID, gateway.UpdateSubscriptionParams{
			CancelAtPeriodEnd: lo.ToPtr(true),
			CancelReason:      req.Reason,
		})
		if err != nil {
			return nil, err
		}
	}

	// The gateway has accepted; a failure here leaves only the reason unrecorded
	// and a retry of the whole request is safe.
	out, err := s.subs.ApplyToUser(ctx, userID, "", ev)
	if err != nil {
		return nil, fmt.Errorf("failed to record cancellation: %w", err)
	}

	res := &CancelResult{
		Status:            out.Next.Status,
		CancelAtPeriodEnd: true,
		EffectiveAt:       out.Next.CurrentPeriodEnd,
	}
	if confirmed != nil && confirmed.CurrentPeriodEnd != nil {
		res.EffectiveAt = confirmed.CurrentPeriodEnd
	}
	logctx.FromCtx(ctx, s.log).Infow("cancellation_scheduled", "subscription_id", out.Next.ID, "effective_at", res.EffectiveAt)
	return res, nil
}

// ChangePlan asks the gateway to move to the cycle's price with proration.
// Billing cycle and amount are updated when the gateway confirms.
func (s *Service) ChangePlan(ctx context.Context, userID string, cycle types.BillingCycle) (*ChangePlanResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.subs.Get(ctx, userID); err != nil {
		return nil, err
	}
	priceID, err := s.resolvePrice(ctx, cycle)
	if err != nil {
		return nil, err
	}
	planned, err := s.subs.Evaluate(ctx, userID, subscription.PlanChangeRequested{Cycle: cycle, PriceID: priceID})
	if err != nil {
		return nil, err
	}
	for _, effect := range planned.Effects {
		req, ok := effect.(subscription.RequestPlanChange)
		if !ok {
			continue
		}
		if _, err := s.gw.UpdateSubscription(ctx, req.ExternalID, gateway.UpdateSubscriptionParams{PriceID: req.PriceID}); err != nil {
			return nil, err
		}
	}
	logctx.FromCtx(ctx, s.log).Infow("plan_change_requested", "subscription_id", planned.Next.ID, "billing_cycle", cycle, "price_id", priceID)
	return &ChangePlanResult{BillingCycle: cycle, PriceID: priceID, Pending: true}, nil
}

// Portal returns a gateway-hosted page where the user manages billing details.
func (s *Service) Portal(ctx context.Context, userID string) (*PortalResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.CustomerID == "" {
		return nil, ErrNoCustomer
	}
	sess, err := s.gw.CreatePortalSession(ctx, gateway.PortalSessionParams{
		CustomerID: sub.CustomerID,
		ReturnURL:  s.cfg.Billing.PortalReturnURL,
	})
	if err != nil {
		return nil, err
	}
	return &PortalResult{URL: sess.URL}, nil
}

// Subscription returns the user's subscription as shown to the user.
func (s *Service) Subscription(ctx context.Context, userID string) (*types.UserSubscriptionInfo, error) {
	sub, err := s.subs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return sub.Info(), nil
}

func newSubscriptions(s *subscription.Service) Subscriptions { return s }

var Module = fx.Options(
	fx.Provide(newSubscriptions),
	fx.Provide(NewService),
)
