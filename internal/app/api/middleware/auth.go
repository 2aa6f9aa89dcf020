package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/response"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderCronSecret    = "X-Cron-Secret"
	HeaderAdminToken    = "X-Admin-Token"
	headerAuthorization = "Authorization"
)

// UserIdentityMiddleware trusts the user id injected by the upstream auth layer.
// Requests without one are rejected before reaching user-scoped handlers.
func UserIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" || len(uid) > 128 {
			c.AbortWithStatusJSON(response.APIResponseCodeUnauthorized.HTTPStatus(),
				response.ErrorMsg(response.APIResponseCodeUnauthorized, "missing user identity"))
			return
		}
		c.Set(logctx.GinUserIDKey, uid)
		c.Request = c.Request.WithContext(logctx.WithUserID(c.Request.Context(), uid))
		c.Next()
	}
}

// CronSecretMiddleware accepts the shared secret as "Authorization: Bearer <secret>"
// or as the x-cron-secret header.
func CronSecretMiddleware(secret string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secretMatches(secret, presentedCronSecret(c)) {
			logctx.FromGin(c, log).Warnw("cron_auth_rejected", "client_ip", c.ClientIP())
			c.AbortWithStatusJSON(response.APIResponseCodeUnauthorized.HTTPStatus(),
				response.ErrorMsg(response.APIResponseCodeUnauthorized, ""))
			return
		}
		c.Next()
	}
}

// AdminTokenMiddleware guards the admin listing endpoints.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !secretMatches(token, c.GetHeader(HeaderAdminToken)) {
			c.AbortWithStatusJSON(response.APIResponseCodeUnauthorized.HTTPStatus(),
				response.ErrorMsg(response.APIResponseCodeUnauthorized, ""))
			return
		}
		c.Next()
	}
}

func presentedCronSecret(c *gin.Context) string {
	if auth := c.GetHeader(headerAuthorization); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(c.GetHeader(HeaderCronSecret))
}

// secretMatches never matches an unconfigured secret.
func secretMatches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
