package statistics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/fx"
	"golang.org/x/sync/errgroup"

	"github.com/fatflowers/billsync/internal/repository"
)

type StatisticType string

const (
	// Live subscriptions per status.
	StatisticTypeSubscriptionCount StatisticType = "subscription_count"
	// Payment count (value) and amount (value2) per status within the range.
	StatisticTypePaymentTotals StatisticType = "payment_totals"
)

type StatisticDataItem struct {
	ID StatisticType `json:"id" binding:"required,oneof=subscription_count payment_totals"`
}

type StatisticRequest struct {
	// From and To bound payment statistics; To defaults to now and From to 30 days before To.
	From      *time.Time           `json:"from"`
	To        *time.Time           `json:"to"`
	DataItems []*StatisticDataItem `json:"data_items" binding:"required,min=1,dive"`
}

type StatisticResponseDataItem struct {
	Label  string `json:"label"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
}

type StatisticResponse struct {
	From      time.Time                                     `json:"from"`
	To        time.Time                                     `json:"to"`
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	repo repository.Repository
	now  func() time.Time
}

func New(repo repository.Repository) *Service { return &Service{repo: repo, now: time.Now} }

func (s *Service) subscriptionCount(ctx context.Context) ([]StatisticResponseDataItem, error) {
	counts, err := s.repo.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]StatisticResponseDataItem, 0, len(counts))
	for status, n := range counts {
		out = append(out, StatisticResponseDataItem{Label: string(status), Value: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *Service) paymentTotals(ctx context.Context, from, to time.Time) ([]StatisticResponseDataItem, error) {
	totals, err := s.repo.SumPaymentsByStatus(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]StatisticResponseDataItem, 0, len(totals))
	for _, t := range totals {
		out = append(out, StatisticResponseDataItem{Label: string(t.Status), Value: t.Count, Value2: t.Amount})
	}
	return out, nil
}

func (s *Service) GetStatistic(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	to := s.now().UTC()
	if request.To != nil {
		to = request.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if request.From != nil {
		from = request.From.UTC()
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("invalid range: from %s is not before to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	var mu sync.Mutex
	results := make(map[StatisticType][]StatisticResponseDataItem, len(request.DataItems))
	g, gctx := errgroup.WithContext(ctx)
	for _, item := range request.DataItems {
		g.Go(func() error {
			var (
				res []StatisticResponseDataItem
				err error
			)
			switch item.ID {
			case StatisticTypeSubscriptionCount:
				res, err = s.subscriptionCount(gctx)
			case StatisticTypePaymentTotals:
				res, err = s.paymentTotals(gctx, from, to)
			default:
				return fmt.Errorf("invalid data item id: %s", item.ID)
			}
			if err != nil {
				return fmt.Errorf("failed to compute %s: %w", item.ID, err)
			}
			mu.Lock()
			results[item.ID] = res
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &StatisticResponse{From: from, To: to, DataItems: results}, nil
}

var Module = fx.Options(
	fx.Provide(New),
)
