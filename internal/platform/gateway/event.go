package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatflowers/billsync/pkg/types"
)

// Event is a verified gateway event. Payload is one of the types below;
// anything else decodes to Unrecognized.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Raw     json.RawMessage
	Payload Payload
}

type Payload interface {
	isPayload()
}

type CheckoutSessionCompleted struct {
	SessionID      string
	UserID         string
	CustomerID     string
	SubscriptionID string
	Metadata       map[string]string
}

type SubscriptionChanged struct {
	Deleted      bool
	Subscription Subscription
}

type InvoiceSettled struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	Status         types.PaymentStatus
	Amount         int64
	// Attempt is the gateway's charge attempt counter; 0 before the first try.
	Attempt int
	// Renewal is set for invoices that open a new billing period.
	Renewal   bool
	PeriodEnd *time.Time
}

type Unrecognized struct{}

func (CheckoutSessionCompleted) isPayload() {}
func (SubscriptionChanged) isPayload()      {}
func (InvoiceSettled) isPayload()           {}
func (Unrecognized) isPayload()             {}

const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventSubscriptionCreated      = "customer.subscription.created"
	EventSubscriptionUpdated      = "customer.subscription.updated"
	EventSubscriptionDeleted      = "customer.subscription.deleted"
	EventSubscriptionPaused       = "customer.subscription.paused"
	EventSubscriptionResumed      = "customer.subscription.resumed"
	EventInvoiceFinalized         = "invoice.finalized"
	EventInvoicePaid              = "invoice.paid"
	EventInvoicePaymentSucceeded  = "invoice.payment_succeeded"
	EventInvoicePaymentFailed     = "invoice.payment_failed"
)

type stripeCheckoutSession struct {
	ID              string            `json:"id"`
	Mode            string            `json:"mode"`
	Customer        string            `json:"customer"`
	Subscription    string            `json:"subscription"`
	ClientReference string            `json:"client_reference_id"`
	Metadata        map[string]string `json:"metadata"`
}

type stripeSubscription struct {
	ID                string            `json:"id"`
	Customer          string            `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64             `json:"current_period_end"`
	TrialEnd          int64             `json:"trial_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			ID               string `json:"id"`
			Quantity         int64  `json:"quantity"`
			CurrentPeriodEnd int64  `json:"current_period_end"`
			Price            struct {
				ID         string `json:"id"`
				UnitAmount int64  `json:"unit_amount"`
				Recurring  *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type stripeInvoice struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	BillingReason string `json:"billing_reason"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	AttemptCount  int    `json:"attempt_count"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

// DecodeEvent maps a verified event envelope onto the closed payload set.
func DecodeEvent(id, eventType string, created int64, raw json.RawMessage) (*Event, error) {
	ev := &Event{ID: id, Type: eventType, Created: time.Unix(created, 0).UTC(), Raw: raw, Payload: Unrecognized{}}

	switch eventType {
	case EventCheckoutSessionCompleted:
		var s stripeCheckoutSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		if s.Mode != "subscription" {
			return ev, nil
		}
		userID := s.ClientReference
		if userID == "" {
			userID = s.Metadata["user_id"]
		}
		ev.Payload = CheckoutSessionCompleted{
			SessionID:      s.ID,
			UserID:         userID,
			CustomerID:     s.Customer,
			SubscriptionID: s.Subscription,
			Metadata:       s.Metadata,
		}
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventSubscriptionPaused, EventSubscriptionResumed:
		var s stripeSubscription
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}
		ev.Payload = SubscriptionChanged{
			Deleted:      eventType == EventSubscriptionDeleted,
			Subscription: s.flatten(),
		}
	case EventInvoiceFinalized, EventInvoicePaid, EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}
		settled := inv.flatten(eventType)
		if settled.SubscriptionID == "" {
			return ev, nil
		}
		ev.Payload = settled
	}
	return ev, nil
}

func (s stripeSubscription) flatten() Subscription {
	out := Subscription{
		ID:                s.ID,
		CustomerID:        s.Customer,
		Status:            s.Status,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  unixTime(s.CurrentPeriodEnd),
		TrialEnd:          unixTime(s.TrialEnd),
		Metadata:          s.Metadata,
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.PriceID = item.Price.ID
		out.Amount = item.Price.UnitAmount * max(1, item.Quantity)
		if item.Price.Recurring != nil {
			out.Interval = item.Price.Recurring.Interval
		}
		// Newer API versions report the period on the item only.
		if out.CurrentPeriodEnd == nil {
			out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	return out
}

func (inv stripeInvoice) flatten(eventType string) InvoiceSettled {
	out := InvoiceSettled{
		InvoiceID:      inv.ID,
		SubscriptionID: inv.Subscription,
		CustomerID:     inv.Customer,
		Attempt:        inv.AttemptCount,
		Renewal:        inv.BillingReason == "subscription_cycle",
	}
	if out.SubscriptionID == "" && inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		out.SubscriptionID = inv.Parent.SubscriptionDetails.Subscription
	}
	switch eventType {
	case EventInvoicePaid, EventInvoicePaymentSucceeded:
		out.Status = types.PaymentStatusSucceeded
		out.Amount = inv.AmountPaid
	case EventInvoicePaymentFailed:
		out.Status = types.PaymentStatusFailed
		out.Amount = inv.AmountDue
	default:
		out.Status = types.PaymentStatusPending
		out.Amount = inv.AmountDue
	}
	var end int64
	for _, line := range inv.Lines.Data {
		end = max(end, line.Period.End)
	}
	out.PeriodEnd = unixTime(end)
	return out
}
