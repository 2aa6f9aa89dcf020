package models

import (
	"time"

	"gorm.io/datatypes"
)

type WebhookEventStatus string

const (
	WebhookEventStatusHandled      WebhookEventStatus = "handled"
	WebhookEventStatusDuplicate    WebhookEventStatus = "duplicate"
	WebhookEventStatusIgnored      WebhookEventStatus = "ignored"
	WebhookEventStatusHandleFailed WebhookEventStatus = "handle_failed"
)

// WebhookEvent is one verified gateway delivery and its outcome. Redeliveries
// of the same event append new rows; the latest row wins when reading.
type WebhookEvent struct {
	ID         string             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Provider   string             `gorm:"column:provider;type:varchar(32);not null" json:"provider"`
	EventID    string             `gorm:"column:event_id;type:varchar(128);not null;index:idx_webhook_event_event_id" json:"event_id"`
	EventType  string             `gorm:"column:event_type;type:varchar(128);not null" json:"event_type"`
	ExternalID string             `gorm:"column:external_id;type:varchar(128);not null;default:'';index:idx_webhook_event_external_id" json:"external_id"`
	TraceID    string             `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	OccurredAt time.Time          `gorm:"column:occurred_at" json:"occurred_at"`
	Payload    datatypes.JSON     `gorm:"column:payload;type:jsonb" json:"payload"`
	Error      *string            `gorm:"column:error;type:text;default:null" json:"error"`
	Status     WebhookEventStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	CreatedAt  time.Time          `json:"created_at"`
}

func (WebhookEvent) TableName() string { return "webhook_event_log" }
