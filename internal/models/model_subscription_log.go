package models

import (
	"time"

	"github.com/fatflowers/billsync/pkg/types"
	"gorm.io/datatypes"
)

// SubscriptionLog records changes to user subscriptions.
// Use case: troubleshooting drift reported by reconciliation.
type SubscriptionLog struct {
	ID             string `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string `gorm:"column:user_id;type:varchar(64);index:idx_subscription_log_user_id,priority:1;not null" json:"user_id"`
	SubscriptionID string `gorm:"column:subscription_id;type:uuid;not null" json:"subscription_id"`
	// Reason is the change reason.
	Reason types.SubscriptionChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// EventID is the gateway event that caused the change, empty for user commands.
	EventID string `gorm:"column:event_id;type:varchar(128);not null;default:''" json:"event_id"`
	// Before stores subscription data before the change in JSON format.
	Before datatypes.JSONType[*Subscription] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	// After stores subscription data after the change in JSON format.
	After     datatypes.JSONType[*Subscription] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	CreatedAt time.Time                         `gorm:"index:idx_subscription_log_user_id,priority:2" json:"created_at"`
}

func (SubscriptionLog) TableName() string {
	return "subscription_log"
}
