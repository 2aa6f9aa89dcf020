package middleware

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/pkg/logctx"
)

// RequestLoggerMiddleware derives the request logger handlers and services
// pick up through logctx.FromCtx.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := []any{
			"trace_id", c.GetString(logctx.GinTraceIDKey),
			"route", c.FullPath(),
			"method", c.Request.Method,
		}
		if uid := c.GetString(logctx.GinUserIDKey); uid != "" {
			fields = append(fields, "user_id", uid)
		}
		reqLogger := base.With(fields...)

		c.Set(logctx.GinLoggerKey, reqLogger)
		c.Request = c.Request.WithContext(logctx.WithLogger(c.Request.Context(), reqLogger))
		c.Next()
	}
}
