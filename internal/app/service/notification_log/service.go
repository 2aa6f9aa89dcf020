package notification_log

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/tool"
)

const maxErrorLen = 2000

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// Entry describes one verified webhook delivery and what became of it.
type Entry struct {
	Provider   string
	EventID    string
	EventType  string
	ExternalID string
	Created    time.Time
	Raw        json.RawMessage
	Status     models.WebhookEventStatus
	Err        error
}

// Record persists the entry in the background. Failures are only logged:
// the delivery outcome never depends on the audit row.
func (s *Service) Record(ctx context.Context, e Entry) {
	row := s.row(ctx, e)
	go func() {
		if err := s.save(context.WithoutCancel(ctx), row); err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

func (s *Service) row(ctx context.Context, e Entry) *models.WebhookEvent {
	row := &models.WebhookEvent{
		ID:         tool.GenerateUUIDV7(),
		Provider:   e.Provider,
		EventID:    e.EventID,
		EventType:  e.EventType,
		ExternalID: e.ExternalID,
		TraceID:    logctx.TraceID(ctx),
		OccurredAt: e.Created,
		Status:     e.Status,
	}
	if json.Valid(e.Raw) {
		row.Payload = datatypes.JSON(e.Raw)
	}
	if e.Err != nil {
		msg := tool.Truncate(e.Err.Error(), maxErrorLen)
		row.Error = &msg
	}
	return row
}

func (s *Service) save(ctx context.Context, row *models.WebhookEvent) error {
	return s.db.WithContext(ctx).Create(row).Error
}

var Module = fx.Options(
	fx.Provide(New),
)
