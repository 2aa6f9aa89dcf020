// Package repository is the only place that queries subscription and payment
// rows. Soft deletion is part of its contract: every read excludes deleted rows
// and deleting a subscription is an update of deleted_at.
package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/pkg/types"
)

var (
	ErrNotFound  = errors.New("repository: record not found")
	ErrDuplicate = errors.New("repository: duplicate record")

	// ErrInvalidScan rejects scan filters or sort fields outside the whitelist.
	ErrInvalidScan = errors.New("repository: invalid scan request")
)

type Repository interface {
	// Transaction runs fn against a repository bound to one database transaction.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	FindSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	// ListSubscriptionsByStatus pages through live rows ordered by id, starting after afterID.
	ListSubscriptionsByStatus(ctx context.Context, statuses []types.SubscriptionStatus, afterID string, limit int) ([]*models.Subscription, error)
	// CreateSubscription returns ErrDuplicate when the user already has a live row.
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	SaveSubscriptionLog(ctx context.Context, log *models.SubscriptionLog) error

	// AppendPayment records one charge attempt keyed by gateway invoice id and
	// attempt number. A PENDING row is finalized by the first terminal outcome;
	// a later attempt on a settled invoice appends a new row; redeliveries and
	// older attempts are no-ops. It reports whether a row was written.
	AppendPayment(ctx context.Context, p *models.Payment) (bool, error)

	ScanSubscriptions(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.Subscription], error)
	ScanPayments(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.Payment], error)
	CountSubscriptionsByStatus(ctx context.Context) (map[types.SubscriptionStatus]int64, error)
	SumPaymentsByStatus(ctx context.Context, from, to time.Time) ([]*PaymentTotal, error)
}

type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
}

type PaymentTotal struct {
	Status types.PaymentStatus `json:"status"`
	Count  int64               `json:"count"`
	Amount int64               `json:"amount"`
}

var Module = fx.Options(
	fx.Provide(NewGorm),
)
