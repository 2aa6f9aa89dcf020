package models

import (
	"time"

	"github.com/fatflowers/billsync/pkg/types"
)

// Payment is an append-only charge attempt against a Subscription, keyed by
// gateway invoice id and attempt number. Only a PENDING row changes afterwards:
// the first terminal outcome finalizes it and takes over its attempt number.
type Payment struct {
	ID             string `gorm:"column:id;type:uuid;primaryKey;index:idx_payment_subscription_id_id,priority:2,sort:desc" json:"id"`
	SubscriptionID string `gorm:"column:subscription_id;type:uuid;not null;index:idx_payment_subscription_id_id,priority:1" json:"subscription_id"`
	// ExternalID is the gateway invoice id. Together with Attempt it makes
	// re-delivered invoice events no-ops.
	ExternalID string              `gorm:"column:external_id;type:varchar(128);not null;uniqueIndex:uniq_payment_invoice_attempt,priority:1" json:"external_id"`
	Attempt    int                 `gorm:"column:attempt;type:integer;not null;default:0;uniqueIndex:uniq_payment_invoice_attempt,priority:2" json:"attempt"`
	Amount     int64               `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Status     types.PaymentStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	PeriodEnd  *time.Time          `gorm:"column:period_end;default:null" json:"period_end"`
	CreatedAt  time.Time           `gorm:"index:idx_payment_created_at" json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payment"
}
