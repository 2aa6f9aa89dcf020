package types

import (
	"fmt"
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusTrialing  SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive    SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue   SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled  SubscriptionStatus = "CANCELED"
	SubscriptionStatusSuspended SubscriptionStatus = "SUSPENDED"
	SubscriptionStatusPaused    SubscriptionStatus = "PAUSED"
)

var AllSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusTrialing,
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusCanceled,
	SubscriptionStatusSuspended,
	SubscriptionStatusPaused,
}

// NonTerminalSubscriptionStatuses are the statuses swept by reconciliation.
var NonTerminalSubscriptionStatuses = []SubscriptionStatus{
	SubscriptionStatusActive,
	SubscriptionStatusPastDue,
	SubscriptionStatusTrialing,
}

func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled
}

// Live reports whether the status blocks a new checkout for the same user.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "MONTHLY"
	BillingCycleYearly  BillingCycle = "YEARLY"
)

func ParseBillingCycle(s string) (BillingCycle, error) {
	switch BillingCycle(strings.ToUpper(strings.TrimSpace(s))) {
	case BillingCycleMonthly:
		return BillingCycleMonthly, nil
	case BillingCycleYearly:
		return BillingCycleYearly, nil
	}
	return "", fmt.Errorf("unknown billing cycle %q", s)
}

// BillingCycleFromInterval maps a gateway recurring interval ("month", "year").
func BillingCycleFromInterval(interval string) (BillingCycle, bool) {
	switch strings.ToLower(interval) {
	case "month":
		return BillingCycleMonthly, true
	case "year":
		return BillingCycleYearly, true
	}
	return "", false
}

// Key is the lowercase form used for config map lookups.
func (c BillingCycle) Key() string {
	return strings.ToLower(string(c))
}

type PaymentStatus string

const (
	PaymentStatusSucceeded PaymentStatus = "SUCCEEDED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusPending   PaymentStatus = "PENDING"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

type SubscriptionChangeReason string

const (
	SubscriptionChangeReasonCheckout      SubscriptionChangeReason = "checkout"
	SubscriptionChangeReasonGatewayStatus SubscriptionChangeReason = "gateway_status"
	SubscriptionChangeReasonCancelRequest SubscriptionChangeReason = "cancel_requested"
	SubscriptionChangeReasonPlanChange    SubscriptionChangeReason = "plan_change_requested"
	SubscriptionChangeReasonPayment       SubscriptionChangeReason = "payment"
	SubscriptionChangeReasonRenewal       SubscriptionChangeReason = "renewal"
)

type UserSubscriptionInfo struct {
	Status            SubscriptionStatus `json:"status"`
	BillingCycle      BillingCycle       `json:"billing_cycle"`
	Amount            int64              `json:"amount"`
	CurrentPeriodEnd  *time.Time         `json:"current_period_end"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`
	CancelReason      *string            `json:"cancel_reason,omitempty"`
	CanceledAt        *time.Time         `json:"canceled_at,omitempty"`
}
