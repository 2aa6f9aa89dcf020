package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/billing"
	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/response"
)

// errorCode maps service errors onto API codes. Unknown errors are internal.
func errorCode(err error) response.APIResponseCode {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return response.APIResponseCodeNotFound
	case errors.Is(err, subscription.ErrSubscriptionActive),
		errors.Is(err, subscription.ErrInvalidTransition),
		errors.Is(err, billing.ErrNoCustomer):
		return response.APIResponseCodeConflict
	case errors.Is(err, billing.ErrPriceNotResolvable):
		return response.APIResponseCodeBadRequest
	case errors.Is(err, gateway.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return response.APIResponseCodeUnavailable
	}
	return response.APIResponseCodeError
}

// abortWithError writes the error envelope. Internal errors are logged and
// their text is not returned to the caller.
func abortWithError(c *gin.Context, log *zap.SugaredLogger, op string, err error) {
	code := errorCode(err)
	msg := err.Error()
	if code == response.APIResponseCodeError {
		logctx.FromGin(c, log).Errorw(op+"_failed", "error", err)
		msg = ""
	} else {
		logctx.FromGin(c, log).Infow(op+"_refused", "code", code, "error", err)
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), response.ErrorMsg(code, msg))
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(response.APIResponseCodeBadRequest.HTTPStatus(),
		response.ErrorMsg(response.APIResponseCodeBadRequest, err.Error()))
}

func userID(c *gin.Context) string {
	return c.GetString(logctx.GinUserIDKey)
}
