package subscription

import (
	"time"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/pkg/types"
)

// Event is an input to Transition. The set is closed: gateway notifications
// are translated into one of these before they reach the state machine.
type Event interface {
	Reason() types.SubscriptionChangeReason
	isEvent()
}

// GatewayStatusReported mirrors the gateway's view of a subscription. Status is
// the gateway's raw vocabulary (active, past_due, ...). Empty or zero optional
// fields leave the stored values alone.
type GatewayStatusReported struct {
	Status            string
	CustomerID        string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	BillingCycle      types.BillingCycle
	Amount            int64
	PriceID           string
}

// CancelRequested asks for cancellation at period end. Comment is the
// user supplied reason stored on the row.
type CancelRequested struct {
	Comment string
}

// PlanChangeRequested asks the gateway to move the subscription to PriceID.
// Cycle and amount are only recorded once the gateway reports them back.
type PlanChangeRequested struct {
	Cycle   types.BillingCycle
	PriceID string
}

type CheckoutCompleted struct {
	UserID           string
	ExternalID       string
	CustomerID       string
	Cycle            types.BillingCycle
	Amount           int64
	PriceID          string
	Trial            bool
	CurrentPeriodEnd *time.Time
	// FirstPayment is the invoice the checkout charged, when known. Invoice
	// events that raced ahead of the checkout were dropped for lack of a row.
	FirstPayment *PaymentReported
}

type PaymentReported struct {
	InvoiceID string
	Attempt   int
	Amount    int64
	Status    types.PaymentStatus
	PeriodEnd *time.Time
	// Renewal marks the invoice that opens the next billing period.
	Renewal bool
}

func (GatewayStatusReported) Reason() types.SubscriptionChangeReason {
	return types.SubscriptionChangeReasonGatewayStatus
}
func (CancelRequested) Reason() types.SubscriptionChangeReason {
	return types.SubscriptionChangeReasonCancelRequest
}
func (PlanChangeRequested) Reason() types.SubscriptionChangeReason {
	return types.SubscriptionChangeReasonPlanChange
}
func (CheckoutCompleted) Reason() types.SubscriptionChangeReason {
	return types.SubscriptionChangeReasonCheckout
}
func (e PaymentReported) Reason() types.SubscriptionChangeReason {
	if e.Renewal {
		return types.SubscriptionChangeReasonRenewal
	}
	return types.SubscriptionChangeReasonPayment
}

func (GatewayStatusReported) isEvent() {}
func (CancelRequested) isEvent()       {}
func (PlanChangeRequested) isEvent()   {}
func (CheckoutCompleted) isEvent()     {}
func (PaymentReported) isEvent()       {}

// Effect is work a transition asks the caller to perform.
type Effect interface {
	isEffect()
}

type RequestCancelAtPeriodEnd struct {
	ExternalID string
	Reason     string
}

type RequestPlanChange struct {
	ExternalID string
	Cycle      types.BillingCycle
	PriceID    string
}

// RecordPayment is persisted in the same transaction as the subscription.
type RecordPayment struct {
	Payment *models.Payment
}

func (RequestCancelAtPeriodEnd) isEffect() {}
func (RequestPlanChange) isEffect()        {}
func (RecordPayment) isEffect()            {}
