package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/price"
	stripesubscription "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/metrics"
	"github.com/fatflowers/billsync/pkg/types"
)

// Stripe implements Gateway on top of stripe-go.
type Stripe struct {
	webhookSecret string
	tolerance     time.Duration
	log           *zap.SugaredLogger
	metrics       *metrics.Billing
}

// NewStripe configures the process-wide stripe-go backend. Network retries are
// left to the caller: webhook retries come from Stripe itself and mutations
// surface failures to the user.
func NewStripe(cfg *config.Config, log *zap.SugaredLogger, m *metrics.Billing) *Stripe {
	stripe.Key = cfg.Stripe.SecretKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Stripe.Timeout},
		LeveledLogger:     log,
		MaxNetworkRetries: stripe.Int64(cfg.Stripe.MaxNetworkRetries),
	}))
	return &Stripe{
		webhookSecret: cfg.Stripe.WebhookSecret,
		tolerance:     cfg.Stripe.WebhookTolerance,
		log:           log,
		metrics:       m,
	}
}

func (s *Stripe) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	meta := map[string]string{
		"user_id":       p.UserID,
		"billing_cycle": string(p.BillingCycle),
	}
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
		},
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(p.TrialDays)
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	params.Context = ctx

	sess, err := checkoutsession.New(params)
	s.metrics.GatewayCall("create_checkout_session", err)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", classify(err))
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) CreatePortalSession(ctx context.Context, p PortalSessionParams) (*PortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(p.CustomerID),
		ReturnURL: stripe.String(p.ReturnURL),
	}
	params.Context = ctx

	sess, err := portalsession.New(params)
	s.metrics.GatewayCall("create_portal_session", err)
	if err != nil {
		return nil, fmt.Errorf("failed to create portal session: %w", classify(err))
	}
	return &PortalSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *Stripe) RetrieveSubscription(ctx context.Context, externalID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("latest_invoice")

	sub, err := stripesubscription.Get(externalID, params)
	s.metrics.GatewayCall("retrieve_subscription", err)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription %s: %w", externalID, classify(err))
	}
	return fromStripeSubscription(sub), nil
}

func (s *Stripe) UpdateSubscription(ctx context.Context, externalID string, p UpdateSubscriptionParams) (*Subscription, error) {
	params := &stripe.SubscriptionParams{}
	if p.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*p.CancelAtPeriodEnd)
		if p.CancelReason != "" {
			params.CancellationDetails = &stripe.SubscriptionCancellationDetailsParams{
				Comment: stripe.String(p.CancelReason),
			}
		}
	}
	if p.PriceID != "" {
		current, err := s.RetrieveSubscription(ctx, externalID)
		if err != nil {
			return nil, err
		}
		if current.ItemID == "" {
			return nil, fmt.Errorf("subscription %s has no items", externalID)
		}
		params.Items = []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(current.ItemID), Price: stripe.String(p.PriceID)},
		}
		params.ProrationBehavior = stripe.String("create_prorations")
	}
	params.Context = ctx

	sub, err := stripesubscription.Update(externalID, params)
	s.metrics.GatewayCall("update_subscription", err)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription %s: %w", externalID, classify(err))
	}
	return fromStripeSubscription(sub), nil
}

func (s *Stripe) LookupPrice(ctx context.Context, lookupKey string) (string, error) {
	params := &stripe.PriceListParams{
		Active:     stripe.Bool(true),
		LookupKeys: stripe.StringSlice([]string{lookupKey}),
	}
	params.Context = ctx

	iter := price.List(params)
	for iter.Next() {
		p := iter.Price()
		if p != nil && p.ID != "" {
			s.metrics.GatewayCall("lookup_price", nil)
			return p.ID, nil
		}
	}
	err := iter.Err()
	s.metrics.GatewayCall("lookup_price", err)
	if err != nil {
		return "", fmt.Errorf("failed to list prices for %s: %w", lookupKey, classify(err))
	}
	return "", fmt.Errorf("price lookup key %s: %w", lookupKey, ErrNotFound)
}

func (s *Stripe) ConstructEvent(payload []byte, signature string) (*Event, error) {
	return VerifyEvent(payload, signature, s.webhookSecret, s.tolerance)
}

// VerifyEvent checks the Stripe-Signature header against secret and decodes
// the event. The event's API version is not compared with the SDK's.
func VerifyEvent(payload []byte, signature, secret string, tolerance time.Duration) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if ev.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", ErrMalformedEvent, ev.ID)
	}
	out, err := DecodeEvent(ev.ID, string(ev.Type), ev.Created, ev.Data.Raw)
	if err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	return out, nil
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		TrialEnd:          unixTime(sub.TrialEnd),
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.Amount = item.Price.UnitAmount * max(1, item.Quantity)
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	out.LatestInvoice = fromStripeInvoice(sub.LatestInvoice)
	return out
}

// fromStripeInvoice keeps invoices that are paid or still awaiting payment;
// void and uncollectible ones carry no charge to record.
func fromStripeInvoice(inv *stripe.Invoice) *Invoice {
	if inv == nil || inv.ID == "" {
		return nil
	}
	out := &Invoice{ID: inv.ID, Attempt: int(inv.AttemptCount)}
	switch inv.Status {
	case stripe.InvoiceStatusPaid:
		out.Status = types.PaymentStatusSucceeded
		out.Amount = inv.AmountPaid
	case stripe.InvoiceStatusOpen:
		out.Status = types.PaymentStatusPending
		out.Amount = inv.AmountDue
	default:
		return nil
	}
	return out
}

// classify tags transient failures with ErrUnavailable and missing resources
// with ErrNotFound so callers can pick retryable responses.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			return errors.Join(ErrNotFound, err)
		case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError:
			return errors.Join(ErrUnavailable, err)
		}
		return err
	}
	return errors.Join(ErrUnavailable, err)
}

func newGateway(s *Stripe) Gateway {
	return s
}

var Module = fx.Options(
	fx.Provide(NewStripe),
	fx.Provide(newGateway),
)
