package models

import (
	"time"

	"github.com/fatflowers/billsync/pkg/types"
)

// Subscription mirrors the gateway subscription owned by one user.
// DeletedAt is a plain column: soft deletion is applied explicitly by the repository,
// and the unique index on user_id only covers live rows.
type Subscription struct {
	ID     string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID string `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:uniq_subscription_user_live,where:deleted_at IS NULL" json:"user_id"`
	// ExternalID is the gateway subscription id (sub_...).
	ExternalID string `gorm:"column:external_id;type:varchar(128);not null;index:idx_subscription_external_id" json:"external_id"`
	// CustomerID is the gateway customer id (cus_...).
	CustomerID   string                   `gorm:"column:customer_id;type:varchar(128);not null;default:''" json:"customer_id"`
	Status       types.SubscriptionStatus `gorm:"column:status;type:varchar(32);not null;index:idx_subscription_status" json:"status"`
	BillingCycle types.BillingCycle       `gorm:"column:billing_cycle;type:varchar(16);not null" json:"billing_cycle"`
	// Amount is the recurring price in minor currency units.
	Amount            int64      `gorm:"column:amount;type:bigint;not null;default:0" json:"amount"`
	PriceID           string     `gorm:"column:price_id;type:varchar(128);not null;default:''" json:"price_id"`
	CurrentPeriodEnd  *time.Time `gorm:"column:current_period_end;default:null" json:"current_period_end"`
	CancelAtPeriodEnd bool       `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	CancelReason      *string    `gorm:"column:cancel_reason;type:text;default:null" json:"cancel_reason"`
	CanceledAt        *time.Time `gorm:"column:canceled_at;default:null" json:"canceled_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `gorm:"column:deleted_at;default:null" json:"deleted_at,omitempty"`
}

func (Subscription) TableName() string {
	return "subscription"
}

// Clone returns a deep copy so transitions never alias the caller's row.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.CanceledAt = cloneTime(s.CanceledAt)
	c.DeletedAt = cloneTime(s.DeletedAt)
	if s.CancelReason != nil {
		r := *s.CancelReason
		c.CancelReason = &r
	}
	return &c
}

func (s *Subscription) Info() *types.UserSubscriptionInfo {
	if s == nil {
		return nil
	}
	return &types.UserSubscriptionInfo{
		Status:            s.Status,
		BillingCycle:      s.BillingCycle,
		Amount:            s.Amount,
		CurrentPeriodEnd:  s.CurrentPeriodEnd,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CancelReason:      s.CancelReason,
		CanceledAt:        s.CanceledAt,
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
