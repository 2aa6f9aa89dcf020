package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	nh "github.com/fatflowers/billsync/internal/app/service/notification_handler"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/response"
)

const (
	HeaderStripeSignature = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 16
)

// ApiStripeWebhook acknowledges with 200 once the event is applied, deduplicated
// or deliberately skipped; 500 asks the gateway to redeliver.
//
// @Summary      Stripe Webhook
// @Description  Receives gateway events. The raw body must be unmodified for signature verification.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        Stripe-Signature header string true "Gateway signature header"
// @Param        payload body string true "Raw event payload"
// @Success      200  {object}  handlers.RespWebhook
// @Failure      400  {object}  handlers.RespError
// @Failure      500  {object}  handlers.RespError
// @Router       /api/v1/webhooks/stripe [post]
func ApiStripeWebhook(h *nh.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, h.Logger)

		signature := c.GetHeader(HeaderStripeSignature)
		if signature == "" {
			log.Warnw("webhook_missing_signature")
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "missing signature"))
			return
		}
		payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
		if err != nil {
			log.Warnw("webhook_read_failed", "error", err)
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "unreadable body"))
			return
		}

		res, err := h.Handle(c.Request.Context(), payload, signature)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, response.OKT(res))
		case errors.Is(err, nh.ErrRejected):
			c.JSON(http.StatusBadRequest, response.ErrorMsg(response.APIResponseCodeBadRequest, "invalid event"))
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorMsg(response.APIResponseCodeError, ""))
		}
	}
}

func RegisterWebhookRoutes(r gin.IRouter, h *nh.Handler) {
	r.POST("/stripe", ApiStripeWebhook(h))
}
