package subscription

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/pkg/types"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrSubscriptionActive rejects a checkout while the user already pays.
	ErrSubscriptionActive = errors.New("subscription already active")
	ErrInvalidTransition  = errors.New("invalid subscription transition")
	// ErrUnmappedStatus is returned for gateway statuses with no local meaning.
	ErrUnmappedStatus = errors.New("unmapped gateway status")
)

var gatewayStatuses = map[string]types.SubscriptionStatus{
	"trialing": types.SubscriptionStatusTrialing,
	"active":   types.SubscriptionStatusActive,
	"past_due": types.SubscriptionStatusPastDue,
	"canceled": types.SubscriptionStatusCanceled,
	"unpaid":   types.SubscriptionStatusSuspended,
	"paused":   types.SubscriptionStatusPaused,
	// The first invoice was never paid and the gateway gave up.
	"incomplete_expired": types.SubscriptionStatusCanceled,
}

// MapGatewayStatus translates the gateway's status vocabulary. "incomplete" and
// unknown values are not mapped.
func MapGatewayStatus(raw string) (types.SubscriptionStatus, bool) {
	s, ok := gatewayStatuses[strings.ToLower(strings.TrimSpace(raw))]
	return s, ok
}

type Outcome struct {
	// Next is the state to persist. It is a copy; current is never modified.
	Next    *models.Subscription
	Created bool
	Changed bool
	Effects []Effect
	Reason  types.SubscriptionChangeReason
}

// Transition computes the next subscription state for ev. current is nil when
// the user or external id has no row. It performs no I/O.
func Transition(current *models.Subscription, ev Event, now time.Time) (*Outcome, error) {
	switch e := ev.(type) {
	case GatewayStatusReported:
		return onGatewayStatus(current, e, now)
	case CancelRequested:
		return onCancelRequested(current, e)
	case PlanChangeRequested:
		return onPlanChangeRequested(current, e)
	case CheckoutCompleted:
		return onCheckoutCompleted(current, e)
	case PaymentReported:
		return onPaymentReported(current, e)
	}
	return nil, fmt.Errorf("%w: unsupported event %T", ErrInvalidTransition, ev)
}

func onGatewayStatus(current *models.Subscription, e GatewayStatusReported, now time.Time) (*Outcome, error) {
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	status, ok := MapGatewayStatus(e.Status)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnmappedStatus, e.Status)
	}

	next := current.Clone()
	// The gateway is the system of record; its status is written regardless of
	// the local one.
	next.Status = status
	if status == types.SubscriptionStatusCanceled && current.Status != types.SubscriptionStatusCanceled {
		next.CanceledAt = lo.ToPtr(now.UTC())
	}
	next.CancelAtPeriodEnd = e.CancelAtPeriodEnd
	if !e.CancelAtPeriodEnd && status != types.SubscriptionStatusCanceled {
		// The scheduled cancellation was withdrawn.
		next.CancelReason = nil
	}
	if e.CustomerID != "" {
		next.CustomerID = e.CustomerID
	}
	next.CurrentPeriodEnd = laterOf(next.CurrentPeriodEnd, e.CurrentPeriodEnd)
	if e.BillingCycle != "" {
		next.BillingCycle = e.BillingCycle
	}
	if e.Amount > 0 {
		next.Amount = e.Amount
	}
	if e.PriceID != "" {
		next.PriceID = e.PriceID
	}
	return outcome(current, next, e), nil
}

func onCancelRequested(current *models.Subscription, e CancelRequested) (*Outcome, error) {
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	if current.Status == types.SubscriptionStatusCanceled {
		return nil, fmt.Errorf("%w: subscription is already canceled", ErrInvalidTransition)
	}
	next := current.Clone()
	// Status stays as is until the gateway reports the cancellation.
	next.CancelReason = lo.EmptyableToPtr(strings.TrimSpace(e.Comment))
	out := outcome(current, next, e)
	out.Effects = []Effect{RequestCancelAtPeriodEnd{ExternalID: current.ExternalID, Reason: e.Comment}}
	return out, nil
}

func onPlanChangeRequested(current *models.Subscription, e PlanChangeRequested) (*Outcome, error) {
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	if current.Status != types.SubscriptionStatusActive {
		return nil, fmt.Errorf("%w: plan change requires an active subscription, status is %s", ErrInvalidTransition, current.Status)
	}
	if e.PriceID == "" {
		return nil, fmt.Errorf("%w: no price for cycle %s", ErrInvalidTransition, e.Cycle)
	}
	return &Outcome{
		Next:    current.Clone(),
		Reason:  e.Reason(),
		Effects: []Effect{RequestPlanChange{ExternalID: current.ExternalID, Cycle: e.Cycle, PriceID: e.PriceID}},
	}, nil
}

func onCheckoutCompleted(current *models.Subscription, e CheckoutCompleted) (*Outcome, error) {
	if current != nil && current.ExternalID == e.ExternalID {
		// Redelivery of a checkout that was already recorded.
		out := &Outcome{Next: current.Clone(), Reason: e.Reason()}
		out.Effects = firstPayment(current, e)
		return out, nil
	}
	if current != nil && current.Status.Live() {
		return nil, ErrSubscriptionActive
	}

	status := types.SubscriptionStatusActive
	if e.Trial {
		status = types.SubscriptionStatusTrialing
	}
	next := &models.Subscription{UserID: e.UserID}
	if current != nil {
		// One row per user: a finished subscription is replaced in place.
		next.ID = current.ID
		next.UserID = current.UserID
		next.CreatedAt = current.CreatedAt
	}
	next.ExternalID = e.ExternalID
	next.CustomerID = e.CustomerID
	next.Status = status
	next.BillingCycle = e.Cycle
	next.Amount = e.Amount
	next.PriceID = e.PriceID
	next.CurrentPeriodEnd = e.CurrentPeriodEnd

	out := outcome(current, next, e)
	out.Created = current == nil
	out.Effects = firstPayment(next, e)
	return out, nil
}

// firstPayment records the checkout invoice; the subscription id is filled in
// once the row is persisted.
func firstPayment(sub *models.Subscription, e CheckoutCompleted) []Effect {
	p := e.FirstPayment
	if p == nil || p.InvoiceID == "" {
		return nil
	}
	return []Effect{RecordPayment{Payment: &models.Payment{
		SubscriptionID: sub.ID,
		ExternalID:     p.InvoiceID,
		Attempt:        p.Attempt,
		Amount:         p.Amount,
		Status:         p.Status,
		PeriodEnd:      p.PeriodEnd,
	}}}
}

func onPaymentReported(current *models.Subscription, e PaymentReported) (*Outcome, error) {
	if current == nil {
		return nil, ErrSubscriptionNotFound
	}
	next := current.Clone()
	if e.Status == types.PaymentStatusSucceeded && e.PeriodEnd != nil {
		if e.Renewal {
			next.CurrentPeriodEnd = lo.ToPtr(e.PeriodEnd.UTC())
		} else {
			next.CurrentPeriodEnd = laterOf(next.CurrentPeriodEnd, e.PeriodEnd)
		}
	}
	out := outcome(current, next, e)
	out.Effects = []Effect{RecordPayment{Payment: &models.Payment{
		SubscriptionID: current.ID,
		ExternalID:     e.InvoiceID,
		Attempt:        e.Attempt,
		Amount:         e.Amount,
		Status:         e.Status,
		PeriodEnd:      e.PeriodEnd,
	}}}
	return out, nil
}

func outcome(current, next *models.Subscription, ev Event) *Outcome {
	return &Outcome{
		Next:    next,
		Changed: current == nil || !sameState(current, next),
		Reason:  ev.Reason(),
	}
}

func sameState(a, b *models.Subscription) bool {
	return a.ExternalID == b.ExternalID &&
		a.CustomerID == b.CustomerID &&
		a.Status == b.Status &&
		a.BillingCycle == b.BillingCycle &&
		a.Amount == b.Amount &&
		a.PriceID == b.PriceID &&
		a.CancelAtPeriodEnd == b.CancelAtPeriodEnd &&
		sameTime(a.CurrentPeriodEnd, b.CurrentPeriodEnd) &&
		sameTime(a.CanceledAt, b.CanceledAt) &&
		lo.FromPtr(a.CancelReason) == lo.FromPtr(b.CancelReason) &&
		(a.CancelReason == nil) == (b.CancelReason == nil)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// laterOf keeps currentPeriodEnd from moving backwards on reordered events.
func laterOf(stored, reported *time.Time) *time.Time {
	switch {
	case reported == nil:
		return stored
	case stored == nil || reported.After(*stored):
		return lo.ToPtr(reported.UTC())
	}
	return stored
}
