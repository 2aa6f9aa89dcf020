package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/metrics"
	"github.com/fatflowers/billsync/pkg/ratelimit"
	"github.com/fatflowers/billsync/pkg/response"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimitMiddleware limits each user within an endpoint group. It must run
// after UserIdentityMiddleware. When the shared cache fails the request is let
// through and the failure logged.
func RateLimitMiddleware(l ratelimit.Limiter, group string, m *metrics.Billing, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := c.GetString(logctx.GinUserIDKey)
		if uid == "" {
			c.Next()
			return
		}
		res, err := l.Allow(c.Request.Context(), group+":"+uid)
		if err != nil {
			logctx.FromGin(c, log).Warnw("ratelimit_check_failed", "group", group, "error", err)
			c.Next()
			return
		}
		c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		if !res.Allowed {
			m.RateLimited(group)
			c.Header(HeaderRetryAfter, strconv.Itoa(res.RetryAfterSeconds()))
			c.AbortWithStatusJSON(response.APIResponseCodeTooManyRequests.HTTPStatus(),
				response.ErrorMsg(response.APIResponseCodeTooManyRequests, ""))
			return
		}
		c.Next()
	}
}
