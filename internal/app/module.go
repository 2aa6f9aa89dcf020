package app

import (
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/api/server"
	"github.com/fatflowers/billsync/internal/app/service/billing"
	"github.com/fatflowers/billsync/internal/app/service/idempotency"
	notificationhandler "github.com/fatflowers/billsync/internal/app/service/notification_handler"
	notificationlog "github.com/fatflowers/billsync/internal/app/service/notification_log"
	"github.com/fatflowers/billsync/internal/app/service/reconcile"
	"github.com/fatflowers/billsync/internal/app/service/statistics"
	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/platform/cache"
	"github.com/fatflowers/billsync/internal/platform/db"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/logger"
	"github.com/fatflowers/billsync/pkg/metrics"
)

const (
	DefaultStartTimeout = 45 * time.Second
	DefaultStopTimeout  = 15 * time.Second
)

var Module = fx.Options(
	fx.WithLogger(func(log *zap.SugaredLogger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Desugar()}
	}),
	logger.Module,
	config.Module,
	metrics.Module,
	db.Module,
	cache.Module,
	gateway.Module,
	repository.Module,
	idempotency.Module,
	subscription.Module,
	notificationlog.Module,
	notificationhandler.Module,
	billing.Module,
	reconcile.Module,
	statistics.Module,
	server.Module,
)
