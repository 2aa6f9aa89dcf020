package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/statistics"
	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/response"
	"github.com/fatflowers/billsync/pkg/types"
)

type ListRequest struct {
	Filters   []*types.CommonFilter `json:"filters" binding:"max=20,dive"`
	From      int                   `json:"from" binding:"gte=0"`
	Size      int                   `json:"size" binding:"gte=0,lte=500"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order" binding:"omitempty,oneof=asc desc"`
}

func (r *ListRequest) scanRequest() *repository.ScanRequest {
	return &repository.ScanRequest{Filters: r.Filters, From: r.From, Size: r.Size, SortBy: r.SortBy, SortOrder: r.SortOrder}
}

// SubscriptionItem is the admin view of a subscription row.
type SubscriptionItem struct {
	ID                string                   `json:"id"`
	UserID            string                   `json:"user_id"`
	ExternalID        string                   `json:"external_id"`
	CustomerID        string                   `json:"customer_id"`
	Status            types.SubscriptionStatus `json:"status"`
	BillingCycle      types.BillingCycle       `json:"billing_cycle"`
	Amount            int64                    `json:"amount"`
	PriceID           string                   `json:"price_id"`
	CurrentPeriodEnd  *time.Time               `json:"current_period_end"`
	CancelAtPeriodEnd bool                     `json:"cancel_at_period_end"`
	CancelReason      string                   `json:"cancel_reason,omitempty"`
	CanceledAt        *time.Time               `json:"canceled_at"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

func toSubscriptionItem(m *models.Subscription) *SubscriptionItem {
	return &SubscriptionItem{
		ID:                m.ID,
		UserID:            m.UserID,
		ExternalID:        m.ExternalID,
		CustomerID:        m.CustomerID,
		Status:            m.Status,
		BillingCycle:      m.BillingCycle,
		Amount:            m.Amount,
		PriceID:           m.PriceID,
		CurrentPeriodEnd:  m.CurrentPeriodEnd,
		CancelAtPeriodEnd: m.CancelAtPeriodEnd,
		CancelReason:      lo.FromPtr(m.CancelReason),
		CanceledAt:        m.CanceledAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionItem `json:"items"`
	Total int64               `json:"total"`
}

type ListPaymentsResponse struct {
	Items []*models.Payment `json:"items"`
	Total int64             `json:"total"`
}

func scanFailed(c *gin.Context, log *zap.SugaredLogger, err error) {
	if errors.Is(err, repository.ErrInvalidScan) {
		badRequest(c, err)
		return
	}
	logctx.FromGin(c, log).Errorw("admin_scan_failed", "error", err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorMsg(response.APIResponseCodeError, ""))
}

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of subscriptions.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        X-Admin-Token header string true "Admin token"
// @Param        request body ListRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Failure      400  {object}  handlers.RespError
// @Router       /api/v1/admin/subscriptions [post]
func ApiListSubscriptions(repo repository.Repository, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListRequest
		if err := bindJSON(c, &req, true); err != nil {
			badRequest(c, err)
			return
		}
		res, err := repo.ScanSubscriptions(c.Request.Context(), req.scanRequest())
		if err != nil {
			scanFailed(c, log, err)
			return
		}
		items := lo.Map(res.Items, func(it *models.Subscription, _ int) *SubscriptionItem { return toSubscriptionItem(it) })
		c.JSON(http.StatusOK, response.OKT(&ListSubscriptionsResponse{Items: items, Total: res.Total}))
	}
}

// @Summary      List Payments (Admin)
// @Description  Retrieves a paginated and filterable list of payments.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        X-Admin-Token header string true "Admin token"
// @Param        request body ListRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListPayments
// @Failure      400  {object}  handlers.RespError
// @Router       /api/v1/admin/payments [post]
func ApiListPayments(repo repository.Repository, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListRequest
		if err := bindJSON(c, &req, true); err != nil {
			badRequest(c, err)
			return
		}
		res, err := repo.ScanPayments(c.Request.Context(), req.scanRequest())
		if err != nil {
			scanFailed(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&ListPaymentsResponse{Items: res.Items, Total: res.Total}))
	}
}

// @Summary      Get Billing Statistics (Admin)
// @Description  Subscription counts per status and payment totals for a date range.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        X-Admin-Token header string true "Admin token"
// @Param        request body statistics.StatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespStatistic
// @Failure      400  {object}  handlers.RespError
// @Router       /api/v1/admin/statistics [post]
func ApiGetStatistic(svc *statistics.Service, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.StatisticRequest
		if err := bindJSON(c, &req, false); err != nil {
			badRequest(c, err)
			return
		}
		if req.From != nil && req.To != nil && !req.From.Before(*req.To) {
			badRequest(c, errors.New("from must be before to"))
			return
		}
		res, err := svc.GetStatistic(c.Request.Context(), &req)
		if err != nil {
			logctx.FromGin(c, log).Errorw("statistic_failed", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.ErrorMsg(response.APIResponseCodeError, ""))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminRoutes(r gin.IRouter, repo repository.Repository, stats *statistics.Service, log *zap.SugaredLogger) {
	r.POST("/subscriptions", ApiListSubscriptions(repo, log))
	r.POST("/payments", ApiListPayments(repo, log))
	r.POST("/statistics", ApiGetStatistic(stats, log))
}
