package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/billing"
	"github.com/fatflowers/billsync/pkg/response"
	"github.com/fatflowers/billsync/pkg/types"
)

type CheckoutRequest struct {
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type ChangePlanRequest struct {
	BillingCycle string `json:"billing_cycle" binding:"required,billing_cycle"`
}

// BillingHandlers serves the user-scoped billing mutations. The user id is set
// by UserIdentityMiddleware.
type BillingHandlers struct {
	svc *billing.Service
	log *zap.SugaredLogger
}

func NewBillingHandlers(svc *billing.Service, log *zap.SugaredLogger) *BillingHandlers {
	return &BillingHandlers{svc: svc, log: log}
}

// @Summary      Start checkout
// @Description  Opens a hosted checkout session for the requested billing cycle.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Authenticated user id"
// @Param        request body CheckoutRequest true "Checkout request"
// @Success      200  {object}  handlers.RespCheckout
// @Failure      400  {object}  handlers.RespError
// @Failure      409  {object}  handlers.RespError
// @Failure      429  {object}  handlers.RespError
// @Router       /api/v1/billing/checkout [post]
func (h *BillingHandlers) Checkout(c *gin.Context) {
	var req CheckoutRequest
	if err := bindJSON(c, &req, false); err != nil {
		badRequest(c, err)
		return
	}
	cycle, _ := types.ParseBillingCycle(req.BillingCycle)
	res, err := h.svc.Checkout(c.Request.Context(), userID(c), cycle)
	if err != nil {
		abortWithError(c, h.log, "checkout", err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Cancel subscription
// @Description  Schedules cancellation at the end of the current period.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Authenticated user id"
// @Param        request body CancelRequest false "Optional cancellation reason"
// @Success      200  {object}  handlers.RespCancel
// @Failure      404  {object}  handlers.RespError
// @Failure      409  {object}  handlers.RespError
// @Router       /api/v1/billing/cancel [post]
func (h *BillingHandlers) Cancel(c *gin.Context) {
	var req CancelRequest
	if err := bindJSON(c, &req, true); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.svc.Cancel(c.Request.Context(), userID(c), req.Reason)
	if err != nil {
		abortWithError(c, h.log, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Change plan
// @Description  Asks the gateway to move the subscription to another billing cycle.
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        X-User-ID header string true "Authenticated user id"
// @Param        request body ChangePlanRequest true "Change plan request"
// @Success      200  {object}  handlers.RespChangePlan
// @Failure      404  {object}  handlers.RespError
// @Failure      409  {object}  handlers.RespError
// @Router       /api/v1/billing/change-plan [post]
func (h *BillingHandlers) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := bindJSON(c, &req, false); err != nil {
		badRequest(c, err)
		return
	}
	cycle, _ := types.ParseBillingCycle(req.BillingCycle)
	res, err := h.svc.ChangePlan(c.Request.Context(), userID(c), cycle)
	if err != nil {
		abortWithError(c, h.log, "change_plan", err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Billing portal
// @Description  Returns a gateway-hosted page for managing payment methods and invoices.
// @Tags         Billing
// @Produce      json
// @Param        X-User-ID header string true "Authenticated user id"
// @Success      200  {object}  handlers.RespPortal
// @Failure      404  {object}  handlers.RespError
// @Failure      409  {object}  handlers.RespError
// @Router       /api/v1/billing/portal [post]
func (h *BillingHandlers) Portal(c *gin.Context) {
	res, err := h.svc.Portal(c.Request.Context(), userID(c))
	if err != nil {
		abortWithError(c, h.log, "portal", err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// @Summary      Current subscription
// @Tags         Billing
// @Produce      json
// @Param        X-User-ID header string true "Authenticated user id"
// @Success      200  {object}  handlers.RespSubscription
// @Failure      404  {object}  handlers.RespError
// @Router       /api/v1/billing/subscription [get]
func (h *BillingHandlers) Subscription(c *gin.Context) {
	res, err := h.svc.Subscription(c.Request.Context(), userID(c))
	if err != nil {
		abortWithError(c, h.log, "get_subscription", err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

// RegisterBillingRoutes mounts the billing endpoints. limited wraps the
// mutations; reads are not rate limited.
func RegisterBillingRoutes(r gin.IRouter, h *BillingHandlers, limited gin.HandlerFunc) {
	r.GET("/subscription", h.Subscription)

	m := r.Group("")
	if limited != nil {
		m.Use(limited)
	}
	m.POST("/checkout", h.Checkout)
	m.POST("/cancel", h.Cancel)
	m.POST("/change-plan", h.ChangePlan)
	m.POST("/portal", h.Portal)
}
