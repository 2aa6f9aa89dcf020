package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/billsync/docs"
	"github.com/fatflowers/billsync/internal/app/api/handlers"
	mw "github.com/fatflowers/billsync/internal/app/api/middleware"
	"github.com/fatflowers/billsync/internal/app/service/billing"
	nh "github.com/fatflowers/billsync/internal/app/service/notification_handler"
	"github.com/fatflowers/billsync/internal/app/service/reconcile"
	"github.com/fatflowers/billsync/internal/app/service/statistics"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/db"
	"github.com/fatflowers/billsync/internal/repository"
	cfgpkg "github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/metrics"
	"github.com/fatflowers/billsync/pkg/ratelimit"
)

const rateLimitGroupBilling = "billing"

func newEngine(cfg *cfgpkg.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	handlers.RegisterValidators()

	r := gin.New()
	r.Use(gin.Recovery())
	// Request logger & access log are attached per group in registerRoutes.
	r.Use(mw.TraceMiddleware())
	return r
}

func newLimiter(cfg *cfgpkg.Config, c cache.Cache) (ratelimit.Limiter, error) {
	sw, err := ratelimit.NewSlidingWindow(c, cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.KeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limiter: %w", err)
	}
	return sw, nil
}

type routeParams struct {
	fx.In

	Engine    *gin.Engine
	Log       *zap.SugaredLogger
	Cfg       *cfgpkg.Config
	DB        *gorm.DB
	Cache     cache.Cache
	Limiter   ratelimit.Limiter
	Metrics   *metrics.Billing
	Webhooks  *nh.Handler
	Billing   *billing.Service
	Reconcile *reconcile.Job
	Repo      repository.Repository
	Stats     *statistics.Service
}

func registerRoutes(p routeParams) {
	r, log, cfg := p.Engine, p.Log, p.Cfg

	prom := metrics.NewPrometheus(metrics.NewPrometheusOptions{
		Subsystem: metrics.Subsystem,
		Logger:    log,
	})
	prom.Use(r)

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub, map[string]handlers.HealthCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx, p.DB) },
		"redis":    p.Cache.Ping,
	})
	if gin.Mode() != gin.ReleaseMode {
		docs.SwaggerInfo.BasePath = "/"
		pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	apiV1 := r.Group("/api/v1")

	webhooks := apiV1.Group("/webhooks")
	webhooks.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterWebhookRoutes(webhooks, p.Webhooks)

	cron := apiV1.Group("/cron")
	cron.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.CronSecretMiddleware(cfg.Reconcile.CronSecret, log))
	handlers.RegisterCronRoutes(cron, p.Reconcile, log)

	// Identity goes first so the request logger carries the user id.
	bill := apiV1.Group("/billing")
	bill.Use(mw.UserIdentityMiddleware(), mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterBillingRoutes(bill, handlers.NewBillingHandlers(p.Billing, log),
		mw.RateLimitMiddleware(p.Limiter, rateLimitGroupBilling, p.Metrics, log))

	admin := apiV1.Group("/admin")
	admin.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(), mw.AdminTokenMiddleware(cfg.Admin.Token))
	handlers.RegisterAdminRoutes(admin, p.Repo, p.Stats, log)
}

func runServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Errorw("server error", "error", err)
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Provide(newLimiter),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
