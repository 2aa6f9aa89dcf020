// Package notification_handler is the webhook ingestion pipeline: verify the
// delivery, skip events already applied, translate the payload and hand it to
// the subscription state machine.
package notification_handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fatflowers/billsync/internal/app/service/idempotency"
	notificationlog "github.com/fatflowers/billsync/internal/app/service/notification_log"
	"github.com/fatflowers/billsync/internal/app/service/subscription"
	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/platform/gateway"
	"github.com/fatflowers/billsync/pkg/config"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/metrics"
)

// ErrRejected marks deliveries that must not be retried: a bad signature or a
// signed payload that cannot be decoded.
var ErrRejected = errors.New("webhook rejected")

const (
	OutcomeHandled   = "handled"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeDropped   = "dropped"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

type Deduper interface {
	HasProcessed(ctx context.Context, eventID string) bool
	MarkProcessed(ctx context.Context, eventID string)
}

type Applier interface {
	ApplyToUser(ctx context.Context, userID, eventID string, ev subscription.Event) (*subscription.Outcome, error)
	ApplyToExternal(ctx context.Context, externalID, eventID string, ev subscription.Event) (*subscription.Outcome, error)
}

type Recorder interface {
	Record(ctx context.Context, e notificationlog.Entry)
}

type Result struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Outcome   string `json:"outcome"`
}

type Handler struct {
	gw      gateway.Gateway
	dedup   Deduper
	subs    Applier
	audit   Recorder
	metrics *metrics.Billing
	timeout time.Duration
	Logger  *zap.SugaredLogger
}

func NewHandler(cfg *config.Config, gw gateway.Gateway, dedup Deduper, subs Applier, audit Recorder, m *metrics.Billing, log *zap.SugaredLogger) *Handler {
	return &Handler{
		gw:      gw,
		dedup:   dedup,
		subs:    subs,
		audit:   audit,
		metrics: m,
		timeout: cfg.Billing.RequestTimeout,
		Logger:  log,
	}
}

// Handle processes one delivery. Errors wrapping ErrRejected are permanent;
// any other error means the effect did not land and the gateway should retry.
func (h *Handler) Handle(ctx context.Context, payload []byte, signature string) (*Result, error) {
	start := time.Now()
	log := logctx.FromCtx(ctx, h.Logger)

	ev, err := h.gw.ConstructEvent(payload, signature)
	if err != nil {
		log.Warnw("webhook_rejected", "error", err)
		h.metrics.WebhookEvent("unknown", OutcomeRejected)
		return nil, errors.Join(ErrRejected, err)
	}
	defer h.metrics.ObserveProcess("webhook", ev.Type, start)

	log = log.With("event_id", ev.ID, "event_type", ev.Type)
	res := &Result{EventID: ev.ID, EventType: ev.Type}
	entry := notificationlog.Entry{
		Provider:  gateway.ProviderStripe,
		EventID:   ev.ID,
		EventType: ev.Type,
		Created:   ev.Created,
		Raw:       ev.Raw,
	}
	finish := func(outcome string, status models.WebhookEventStatus, err error) {
		res.Outcome = outcome
		entry.Status = status
		entry.Err = err
		h.audit.Record(ctx, entry)
		h.metrics.WebhookEvent(ev.Type, outcome)
	}

	if h.dedup.HasProcessed(ctx, ev.ID) {
		log.Infow("webhook_duplicate")
		finish(OutcomeDuplicate, models.WebhookEventStatusDuplicate, nil)
		return res, nil
	}

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	cmd, err := h.parse(ctx, ev)
	if err != nil {
		log.Errorw("webhook_parse_failed", "error", err)
		finish(OutcomeFailed, models.WebhookEventStatusHandleFailed, err)
		return nil, fmt.Errorf("failed to parse event %s: %w", ev.ID, err)
	}
	if cmd == nil {
		log.Infow("webhook_ignored")
		h.dedup.MarkProcessed(ctx, ev.ID)
		finish(OutcomeIgnored, models.WebhookEventStatusIgnored, nil)
		return res, nil
	}
	entry.ExternalID = cmd.externalID

	if cmd.userID != "" {
		_, err = h.subs.ApplyToUser(ctx, cmd.userID, ev.ID, cmd.event)
	} else {
		_, err = h.subs.ApplyToExternal(ctx, cmd.externalID, ev.ID, cmd.event)
	}
	switch {
	case err == nil:
		h.dedup.MarkProcessed(ctx, ev.ID)
		finish(OutcomeHandled, models.WebhookEventStatusHandled, nil)
		return res, nil
	case errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, subscription.ErrUnmappedStatus),
		errors.Is(err, subscription.ErrSubscriptionActive):
		// Nothing local can make these succeed on a retry; reconciliation
		// surfaces the gap instead.
		log.Errorw("webhook_dropped", "target", cmd.target(), "error", err)
		h.dedup.MarkProcessed(ctx, ev.ID)
		finish(OutcomeDropped, models.WebhookEventStatusIgnored, err)
		return res, nil
	default:
		log.Errorw("webhook_apply_failed", "target", cmd.target(), "error", err)
		finish(OutcomeFailed, models.WebhookEventStatusHandleFailed, err)
		return nil, fmt.Errorf("failed to apply event %s: %w", ev.ID, err)
	}
}

func newDeduper(s *idempotency.Store) Deduper { return s }

func newApplier(s *subscription.Service) Applier { return s }

func newRecorder(s *notificationlog.Service) Recorder { return s }

var Module = fx.Options(
	fx.Provide(newDeduper, newApplier, newRecorder),
	fx.Provide(NewHandler),
)
