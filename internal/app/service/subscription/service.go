package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/billsync/internal/models"
	"github.com/fatflowers/billsync/internal/repository"
	"github.com/fatflowers/billsync/pkg/logctx"
	"github.com/fatflowers/billsync/pkg/tool"
)

// Service persists state machine outcomes. Every Apply runs in one database
// transaction covering the subscription row, its payments and the change log.
type Service struct {
	repo repository.Repository
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewService(repo repository.Repository, log *zap.SugaredLogger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

type loader func(ctx context.Context, repo repository.Repository) (*models.Subscription, error)

func byUserID(userID string) loader {
	return func(ctx context.Context, repo repository.Repository) (*models.Subscription, error) {
		return repo.FindSubscriptionByUserID(ctx, userID)
	}
}

func byExternalID(externalID string) loader {
	return func(ctx context.Context, repo repository.Repository) (*models.Subscription, error) {
		return repo.FindSubscriptionByExternalID(ctx, externalID)
	}
}

// Get returns the user's live subscription.
func (s *Service) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

// Evaluate runs ev against the user's current row without persisting anything,
// so callers can validate a command and collect its effects before acting.
func (s *Service) Evaluate(ctx context.Context, userID string, ev Event) (*Outcome, error) {
	current, err := s.load(ctx, s.repo, byUserID(userID))
	if err != nil {
		return nil, err
	}
	return Transition(current, ev, s.now())
}

// ApplyToUser applies a command or checkout event to the user's row.
func (s *Service) ApplyToUser(ctx context.Context, userID, eventID string, ev Event) (*Outcome, error) {
	return s.apply(ctx, byUserID(userID), eventID, ev)
}

// ApplyToExternal applies a gateway event to the row holding externalID.
func (s *Service) ApplyToExternal(ctx context.Context, externalID, eventID string, ev Event) (*Outcome, error) {
	return s.apply(ctx, byExternalID(externalID), eventID, ev)
}

func (s *Service) load(ctx context.Context, repo repository.Repository, find loader) (*models.Subscription, error) {
	current, err := find(ctx, repo)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return current, nil
}

func (s *Service) apply(ctx context.Context, find loader, eventID string, ev Event) (*Outcome, error) {
	var out *Outcome
	err := s.repo.Transaction(ctx, func(tx repository.Repository) error {
		current, err := s.load(ctx, tx, find)
		if err != nil {
			return err
		}
		out, err = Transition(current, ev, s.now())
		if err != nil {
			return err
		}

		if out.Changed {
			if err := s.persist(ctx, tx, current, out, eventID); err != nil {
				return err
			}
		}
		for _, effect := range out.Effects {
			rp, ok := effect.(RecordPayment)
			if !ok {
				continue
			}
			rp.Payment.SubscriptionID = out.Next.ID
			if _, err := tx.AppendPayment(ctx, rp.Payment); err != nil {
				return fmt.Errorf("failed to record payment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Changed {
		logctx.FromCtx(ctx, s.log).Infow("subscription_changed",
			"subscription_id", out.Next.ID,
			"user_id", out.Next.UserID,
			"status", out.Next.Status,
			"reason", out.Reason,
			"event_id", eventID,
		)
	}
	return out, nil
}

func (s *Service) persist(ctx context.Context, tx repository.Repository, current *models.Subscription, out *Outcome, eventID string) error {
	if out.Created {
		if err := tx.CreateSubscription(ctx, out.Next); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				// A concurrent checkout for the same user won the insert.
				return fmt.Errorf("%w: %w", ErrSubscriptionActive, err)
			}
			return fmt.Errorf("failed to create subscription: %w", err)
		}
	} else if err := tx.SaveSubscription(ctx, out.Next); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}

	entry := &models.SubscriptionLog{
		ID:             tool.GenerateUUIDV7(),
		UserID:         out.Next.UserID,
		SubscriptionID: out.Next.ID,
		Reason:         out.Reason,
		EventID:        eventID,
		Before:         datatypes.NewJSONType(current),
		After:          datatypes.NewJSONType(out.Next),
	}
	if err := tx.SaveSubscriptionLog(ctx, entry); err != nil {
		return fmt.Errorf("failed to save subscription log: %w", err)
	}
	return nil
}

var Module = fx.Options(
	fx.Provide(NewService),
)
