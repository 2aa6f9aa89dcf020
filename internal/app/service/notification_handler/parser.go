package notification_handler

import (
	"context"
	"fmt"

	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/platform/gateway"
)

// command is a gateway event translated for the state machine. Exactly one of
// userID and externalID selects the subscription row.
type command struct {
	userID     string
	externalID string
	event      subscription.Event
}

// parse maps a decoded payload onto a state machine event. A nil command means
// the event carries nothing this service tracks.
func (h *Handler) parse(ctx context.Context, ev *gateway.Event) (*command, error) {
	switch p := ev.Payload.(type) {
	case gateway.CheckoutSessionCompleted:
		return h.parseCheckout(ctx, p)
	case gateway.SubscriptionChanged:
		return &command{externalID: p.Subscription.ID, event: statusReported(p)}, nil
	case gateway.InvoiceSettled:
		return &command{
			externalID: p.SubscriptionID,
			event: subscription.PaymentReported{
				InvoiceID: p.InvoiceID,
				Attempt:   p.Attempt,
				Amount:    p.Amount,
				Status:    p.Status,
				PeriodEnd: p.PeriodEnd,
				Renewal:   p.Renewal,
			},
		}, nil
	}
	return nil, nil
}

// parseCheckout reads the subscription back from the gateway: the session
// payload does not carry price, period or trial details, and a
// customer.subscription.* or invoice.* event that raced ahead of the checkout
// has been dropped for lack of a row. The latest invoice stands in for the
// dropped invoice event.
func (h *Handler) parseCheckout(ctx context.Context, p gateway.CheckoutSessionCompleted) (*command, error) {
	if p.UserID == "" || p.SubscriptionID == "" {
		return nil, nil
	}
	sub, err := h.gw.RetrieveSubscription(ctx, p.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription for checkout %s: %w", p.SessionID, err)
	}
	cycle, _ := sub.BillingCycle()
	customerID := sub.CustomerID
	if customerID == "" {
		customerID = p.CustomerID
	}
	return &command{
		userID: p.UserID,
		event: subscription.CheckoutCompleted{
			UserID:           p.UserID,
			ExternalID:       sub.ID,
			CustomerID:       customerID,
			Cycle:            cycle,
			Amount:           sub.Amount,
			PriceID:          sub.PriceID,
			Trial:            sub.Status == "trialing",
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			FirstPayment:     firstPayment(sub),
		},
	}, nil
}

func firstPayment(sub *gateway.Subscription) *subscription.PaymentReported {
	inv := sub.LatestInvoice
	if inv == nil {
		return nil
	}
	return &subscription.PaymentReported{
		InvoiceID: inv.ID,
		Attempt:   inv.Attempt,
		Amount:    inv.Amount,
		Status:    inv.Status,
		PeriodEnd: sub.CurrentPeriodEnd,
	}
}

func statusReported(p gateway.SubscriptionChanged) subscription.GatewayStatusReported {
	s := p.Subscription
	status := s.Status
	if p.Deleted {
		status = "canceled"
	}
	cycle, _ := s.BillingCycle()
	return subscription.GatewayStatusReported{
		Status:            status,
		CustomerID:        s.CustomerID,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		BillingCycle:      cycle,
		Amount:            s.Amount,
		PriceID:           s.PriceID,
	}
}

func (c *command) target() string {
	if c.userID != "" {
		return c.userID
	}
	return c.externalID
}
