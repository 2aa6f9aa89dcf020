package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/pkg/tool"
	"github.com/fatflowers/billsync/pkg/types"
)

const notDeleted = "deleted_at IS NULL"

var subscriptionScanFields = map[string]bool{
	"id": true, "user_id": true, "external_id": true, "customer_id": true, "status": true,
	"billing_cycle": true, "amount": true, "current_period_end": true, "cancel_at_period_end": true,
	"canceled_at": true, "created_at": true, "updated_at": true,
}

var paymentScanFields = map[string]bool{
	"id": true, "subscription_id": true, "external_id": true, "amount": true, "status": true,
	"attempt": true, "period_end": true, "created_at": true,
}

type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) Repository {
	return &Gorm{db: db}
}

func (r *Gorm) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gorm{db: tx})
	})
}

func (r *Gorm) live(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Subscription{}).Where(notDeleted)
}

func (r *Gorm) FindSubscriptionByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.live(ctx).Where("user_id = ?", userID).Take(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *Gorm) FindSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.live(ctx).Where("external_id = ?", externalID).Take(&sub).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *Gorm) ListSubscriptionsByStatus(ctx context.Context, statuses []types.SubscriptionStatus, afterID string, limit int) ([]*models.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	q := r.live(ctx).Where("status IN ?", statuses)
	if afterID != "" {
		q = q.Where("id > ?", afterID)
	}
	var rows []*models.Subscription
	if err := q.Order("id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return rows, nil
}

func (r *Gorm) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = tool.GenerateUUIDV7()
	}
	sub.DeletedAt = nil
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *Gorm) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	res := r.live(ctx).
		Where("id = ?", sub.ID).
		Select("*").
		Omit("id", "created_at", "deleted_at").
		Updates(sub)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) DeleteSubscription(ctx context.Context, id string) error {
	res := r.live(ctx).Where("id = ?", id).Update("deleted_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Gorm) SaveSubscriptionLog(ctx context.Context, log *models.SubscriptionLog) error {
	if log.ID == "" {
		log.ID = tool.GenerateUUIDV7()
	}
	if err := r.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}
	return nil
}

func (r *Gorm) AppendPayment(ctx context.Context, p *models.Payment) (bool, error) {
	var rows []*models.Payment
	if err := r.db.WithContext(ctx).Where("external_id = ?", p.ExternalID).Order("attempt DESC").Find(&rows).Error; err != nil {
		return false, fmt.Errorf("failed to load payments: %w", err)
	}

	if same, ok := lo.Find(rows, func(row *models.Payment) bool { return row.Attempt == p.Attempt }); ok {
		p.ID = same.ID
		if same.Status != types.PaymentStatusPending || !p.Status.Terminal() {
			return false, nil
		}
		return r.finalizePayment(ctx, same, p)
	}
	if pending, ok := lo.Find(rows, func(row *models.Payment) bool { return row.Status == types.PaymentStatusPending }); ok {
		p.ID = pending.ID
		if !p.Status.Terminal() {
			return false, nil
		}
		return r.finalizePayment(ctx, pending, p)
	}
	if len(rows) > 0 && (!p.Status.Terminal() || p.Attempt < rows[0].Attempt) {
		// A late PENDING or an attempt older than the latest recorded outcome.
		return false, nil
	}

	if p.ID == "" {
		p.ID = tool.GenerateUUIDV7()
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		if errors.Is(translate(err), ErrDuplicate) {
			// A concurrent delivery of the same attempt won the insert.
			return false, nil
		}
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	return true, nil
}

func (r *Gorm) finalizePayment(ctx context.Context, existing, p *models.Payment) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", existing.ID, types.PaymentStatusPending).
		Updates(map[string]any{"status": p.Status, "amount": p.Amount, "attempt": p.Attempt, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		if errors.Is(translate(res.Error), ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to finalize payment: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// filtersAnd is a helper to combine multiple CommonFilter into a single clause.Expression
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

func (r *Gorm) ScanSubscriptions(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.Subscription], error) {
	var rows []*models.Subscription
	total, err := scan(r.live(ctx), req, subscriptionScanFields, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscriptions: %w", err)
	}
	return &ScanResponse[*models.Subscription]{Items: rows, Total: total}, nil
}

func (r *Gorm) ScanPayments(ctx context.Context, req *ScanRequest) (*ScanResponse[*models.Payment], error) {
	var rows []*models.Payment
	total, err := scan(r.db.WithContext(ctx).Model(&models.Payment{}), req, paymentScanFields, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan payments: %w", err)
	}
	return &ScanResponse[*models.Payment]{Items: rows, Total: total}, nil
}

func scan(tx *gorm.DB, req *ScanRequest, allowed map[string]bool, dest any) (int64, error) {
	if req == nil {
		return 0, errors.New("nil request")
	}
	if req.Size <= 0 || req.Size > 500 {
		req.Size = 10
	}
	if req.From < 0 {
		req.From = 0
	}
	for _, f := range req.Filters {
		if err := f.Validate(allowed); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrInvalidScan, err)
		}
	}
	if req.SortBy != "" && !allowed[req.SortBy] {
		return 0, fmt.Errorf("%w: sort field %q is not allowed", ErrInvalidScan, req.SortBy)
	}

	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return 0, err
	}

	q := tx.Limit(req.Size).Offset(req.From)
	sortBy := req.SortBy
	if sortBy == "" {
		sortBy = "id"
	}
	q = q.Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: sortBy}, Desc: req.SortOrder != "asc"}}})
	if err := q.Find(dest).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *Gorm) CountSubscriptionsByStatus(ctx context.Context) (map[types.SubscriptionStatus]int64, error) {
	var rows []struct {
		Status types.SubscriptionStatus
		Count  int64
	}
	if err := r.live(ctx).Select("status, count(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	out := make(map[types.SubscriptionStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Count
	}
	return out, nil
}

func (r *Gorm) SumPaymentsByStatus(ctx context.Context, from, to time.Time) ([]*PaymentTotal, error) {
	var rows []*PaymentTotal
	err := r.db.WithContext(ctx).Model(&models.Payment{}).
		Select("status, count(*) AS count, COALESCE(SUM(amount), 0) AS amount").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Group("status").
		Order("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}
	return rows, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return errors.Join(ErrDuplicate, err)
	}
	return err
}

// isUniqueViolation covers drivers that do not implement gorm's error translator.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "SQLSTATE 23505")
}
