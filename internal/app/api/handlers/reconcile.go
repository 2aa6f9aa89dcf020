package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/reconcile"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/response"
)

// @Summary      Run reconciliation
// @Description  Compares live subscriptions with the gateway and reports drift. Never writes.
// @Tags         Cron
// @Produce      json
// @Param        Authorization header string false "Bearer <cron secret>"
// @Param        x-cron-secret header string false "Cron secret"
// @Success      200  {object}  handlers.RespReconcile
// @Failure      401  {object}  handlers.RespError
// @Failure      500  {object}  handlers.RespError
// @Router       /api/v1/cron/reconcile [post]
func ApiReconcile(job *reconcile.Job, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// A caller that gives up must not cut the sweep short; the lock already
		// prevents overlapping runs.
		report, err := job.Run(context.WithoutCancel(c.Request.Context()))
		if err != nil {
			logctx.FromGin(c, log).Errorw("reconcile_failed", "error", err)
			c.JSON(http.StatusInternalServerError, response.ErrorMsg(response.APIResponseCodeError, ""))
			return
		}
		c.JSON(http.StatusOK, response.OKT(report))
	}
}

func RegisterCronRoutes(r gin.IRouter, job *reconcile.Job, log *zap.SugaredLogger) {
	r.POST("/reconcile", ApiReconcile(job, log))
}
