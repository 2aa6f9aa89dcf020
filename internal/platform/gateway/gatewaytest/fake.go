// Package gatewaytest provides an in-memory gateway.Gateway for tests. Webhook
// signatures are verified exactly as in production.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/fatflowers/billsync/internal/platform/gateway"
)

const Secret = "whsec_test"

type Update struct {
	ExternalID string
	Params     gateway.UpdateSubscriptionParams
}

type Fake struct {
	mu sync.Mutex

	Subscriptions map[string]*gateway.Subscription
	// Prices maps lookup keys to price ids.
	Prices map[string]string
	// Err, when set, fails every outbound call.
	Err error
	// RetrieveErr fails RetrieveSubscription for specific ids.
	RetrieveErr map[string]error
	// Delay is waited (or the context's deadline) before each outbound call.
	Delay time.Duration

	Checkouts    []gateway.CheckoutSessionParams
	Portals      []gateway.PortalSessionParams
	Updates      []Update
	Retrieves    int
	PriceLookups int
}

func New() *Fake {
	return &Fake{
		Subscriptions: map[string]*gateway.Subscription{},
		Prices:        map[string]string{},
		RetrieveErr:   map[string]error{},
	}
}

func (f *Fake) wait(ctx context.Context) error {
	if f.Delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, ctx.Err())
	}
}

func (f *Fake) CreateCheckoutSession(ctx context.Context, p gateway.CheckoutSessionParams) (*gateway.CheckoutSession, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Checkouts = append(f.Checkouts, p)
	id := fmt.Sprintf("cs_test_%d", len(f.Checkouts))
	return &gateway.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (f *Fake) CreatePortalSession(ctx context.Context, p gateway.PortalSessionParams) (*gateway.PortalSession, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.Portals = append(f.Portals, p)
	id := fmt.Sprintf("bps_test_%d", len(f.Portals))
	return &gateway.PortalSession{ID: id, URL: "https://portal.test/" + id}, nil
}

func (f *Fake) RetrieveSubscription(ctx context.Context, externalID string) (*gateway.Subscription, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Retrieves++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := f.RetrieveErr[externalID]; err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[externalID]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", externalID, gateway.ErrNotFound)
	}
	c := *sub
	return &c, nil
}

func (f *Fake) UpdateSubscription(ctx context.Context, externalID string, p gateway.UpdateSubscriptionParams) (*gateway.Subscription, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	sub, ok := f.Subscriptions[externalID]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", externalID, gateway.ErrNotFound)
	}
	f.Updates = append(f.Updates, Update{ExternalID: externalID, Params: p})
	if p.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.PriceID != "" {
		sub.PriceID = p.PriceID
	}
	c := *sub
	return &c, nil
}

func (f *Fake) LookupPrice(ctx context.Context, lookupKey string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PriceLookups++
	if f.Err != nil {
		return "", f.Err
	}
	id, ok := f.Prices[lookupKey]
	if !ok {
		return "", fmt.Errorf("price lookup key %s: %w", lookupKey, gateway.ErrNotFound)
	}
	return id, nil
}

func (f *Fake) ConstructEvent(payload []byte, signature string) (*gateway.Event, error) {
	return gateway.VerifyEvent(payload, signature, Secret, 5*time.Minute)
}

// Put stores or replaces a gateway subscription.
func (f *Fake) Put(sub *gateway.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Subscriptions[sub.ID] = sub
}

func (f *Fake) RetrieveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Retrieves
}

// SignedEvent builds an event envelope around object and signs it with Secret.
// It returns the body and the Stripe-Signature header value.
func SignedEvent(t testing.TB, id, eventType string, object any) ([]byte, string) {
	t.Helper()
	obj, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]json.RawMessage{"object": obj},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    Secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

var _ gateway.Gateway = (*Fake)(nil)
