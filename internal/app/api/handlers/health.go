package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/billsync/pkg/response"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// @Summary      Health check
// @Description  Pings the database and the shared cache
// @Tags         System
// @Produce      json
// @Success      200  {object}  handlers.RespHealth
// @Failure      503  {object}  handlers.RespHealth
// @Router       /health [get]
func Health(checks map[string]HealthCheck) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		code := response.APIResponseCodeOK
		status := map[string]string{"status": "ok"}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				code = response.APIResponseCodeUnavailable
				status["status"] = "degraded"
				status[name] = err.Error()
				continue
			}
			status[name] = "ok"
		}
		if code != response.APIResponseCodeOK {
			c.JSON(http.StatusServiceUnavailable, response.ErrorT(code, status))
			return
		}
		c.JSON(http.StatusOK, response.OKT(status))
	}
}

func RegisterHealthRoutes(r gin.IRouter, checks map[string]HealthCheck) {
	r.GET("/health", Health(checks))
}
