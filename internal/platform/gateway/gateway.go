// Package gateway is the payment processor capability surface used by the
// billing services. The Stripe implementation lives in stripe.go.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/fatflowers/billsync/pkg/types"
)

const ProviderStripe = "stripe"

var (
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrMalformedEvent is a correctly signed event whose payload cannot be decoded.
	ErrMalformedEvent = errors.New("gateway: malformed event")
	ErrNotFound       = errors.New("gateway: resource not found")
	ErrUnavailable    = errors.New("gateway: unavailable")
)

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params PortalSessionParams) (*PortalSession, error)
	RetrieveSubscription(ctx context.Context, externalID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, externalID string, params UpdateSubscriptionParams) (*Subscription, error)
	// LookupPrice resolves an active price by its lookup key.
	LookupPrice(ctx context.Context, lookupKey string) (string, error)
	// ConstructEvent verifies the signature header and decodes the payload.
	ConstructEvent(payload []byte, signature string) (*Event, error)
}

type CheckoutSessionParams struct {
	UserID       string
	CustomerID   string
	PriceID      string
	BillingCycle types.BillingCycle
	TrialDays    int64
	SuccessURL   string
	CancelURL    string
	// IdempotencyKey lets a retried request reuse the same session.
	IdempotencyKey string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type PortalSessionParams struct {
	CustomerID string
	ReturnURL  string
}

type PortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// UpdateSubscriptionParams carries one of two requests: cancel at period end,
// or swap the subscription's price with proration.
type UpdateSubscriptionParams struct {
	CancelAtPeriodEnd *bool
	CancelReason      string
	PriceID           string
}

// Subscription is the gateway's view of a subscription, flattened to the
// single-item shape this service sells.
type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	TrialEnd          *time.Time
	ItemID            string
	PriceID           string
	Interval          string
	Amount            int64
	Metadata          map[string]string
	// LatestInvoice is only filled by RetrieveSubscription.
	LatestInvoice *Invoice
}

// Invoice is the charge state of one subscription invoice.
type Invoice struct {
	ID      string
	Status  types.PaymentStatus
	Amount  int64
	Attempt int
}

func (s *Subscription) BillingCycle() (types.BillingCycle, bool) {
	if s == nil {
		return "", false
	}
	return types.BillingCycleFromInterval(s.Interval)
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
