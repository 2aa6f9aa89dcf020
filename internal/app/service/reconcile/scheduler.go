package reconcile

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/pkg/config"
)

// Scheduler runs the job on a fixed interval inside the process. It is safe
// next to external triggers and other instances because of the job's lock.
type Scheduler struct {
	job      *Job
	interval time.Duration
	log      *zap.SugaredLogger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(job *Job, interval time.Duration, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{job: job, interval: interval, log: log}
}

func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.job.Run(ctx); err != nil {
				s.log.Errorw("scheduled_reconcile_failed", "error", err)
			}
		}
	}
}

func registerScheduler(lc fx.Lifecycle, cfg *config.Config, job *Job, log *zap.SugaredLogger) {
	if cfg.Reconcile.Interval <= 0 {
		return
	}
	s := NewScheduler(job, cfg.Reconcile.Interval, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Infow("reconcile_scheduler_started", "interval", cfg.Reconcile.Interval)
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
}

var Module = fx.Options(
	fx.Provide(NewJob),
	fx.Invoke(registerScheduler),
)
