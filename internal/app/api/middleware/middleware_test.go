package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/metrics"
	"github.com/fatflowers/billsync/pkg/ratelimit"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.POST("/t", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(logctx.GinUserIDKey), "trace": c.GetString(logctx.GinTraceIDKey)})
	})
	return r
}

func do(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/t", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceMiddlewareKeepsOrGenerates(t *testing.T) {
	r := newRouter(TraceMiddleware())

	w := do(r, map[string]string{HeaderRequestID: "abc"})
	assert.Contains(t, w.Body.String(), `"trace":"abc"`)
	assert.Equal(t, "abc", w.Header().Get(HeaderRequestID))

	w = do(r, nil)
	assert.NotContains(t, w.Body.String(), `"trace":""`)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestUserIdentityMiddleware(t *testing.T) {
	r := newRouter(UserIdentityMiddleware())

	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{HeaderUserID: "   "}).Code)

	w := do(r, map[string]string{HeaderUserID: "u1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"u1"`)
}

func TestCronSecretMiddleware(t *testing.T) {
	r := newRouter(CronSecretMiddleware("s3cret", zap.NewNop().Sugar()))

	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{HeaderCronSecret: "s3cret"}).Code)
}

func TestCronSecretMiddlewareRejectsWhenUnconfigured(t *testing.T) {
	r := newRouter(CronSecretMiddleware("", zap.NewNop().Sugar()))
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{"Authorization": "Bearer "}).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{HeaderCronSecret: ""}).Code)
}

func TestAdminTokenMiddleware(t *testing.T) {
	r := newRouter(AdminTokenMiddleware("tok"))
	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{HeaderAdminToken: "tok"}).Code)
}

func newLimiter(t *testing.T, limit int) ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := ratelimit.NewSlidingWindow(cache.NewRedis(client), limit, time.Hour, "test:rl:")
	require.NoError(t, err)
	return l
}

func TestRateLimitMiddlewareRejectsOverLimit(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewBilling(reg, "test")
	require.NoError(t, err)

	r := newRouter(UserIdentityMiddleware(), RateLimitMiddleware(newLimiter(t, 2), "billing", m, zap.NewNop().Sugar()))
	u1 := map[string]string{HeaderUserID: "u1"}

	for i := 0; i < 2; i++ {
		w := do(r, u1)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(HeaderRateLimitLimit))
	}

	w := do(r, u1)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRetryAfter))
	assert.NotEqual(t, "0", w.Header().Get(HeaderRetryAfter))
	assert.Contains(t, w.Body.String(), `"code":42900`)

	// Budgets are per user.
	assert.Equal(t, http.StatusOK, do(r, map[string]string{HeaderUserID: "u2"}).Code)

	n, err := testutil.GatherAndCount(reg, "test_rate_limited_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (*ratelimit.Result, error) {
	return nil, errors.New("redis down")
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	r := newRouter(UserIdentityMiddleware(), RateLimitMiddleware(brokenLimiter{}, "billing", nil, zap.NewNop().Sugar()))
	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, do(r, map[string]string{HeaderUserID: "u1"}).Code)
	}
}
