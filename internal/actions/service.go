package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/storage"
)

// CreateStore is the persistence Service needs.
type CreateStore interface {
	storage.AlertStore
	storage.ActionStore
}

// Service creates actions and hands each to the queue exactly once.
type Service struct {
	store    CreateStore
	queue    Queue
	executor *Executor
	logger   zerolog.Logger
}

// NewService constructs a Service.
func NewService(store CreateStore, queue Queue, executor *Executor, logger zerolog.Logger) *Service {
	return &Service{
		store:    store,
		queue:    queue,
		executor: executor,
		logger:   logger.With().Str("component", "actions").Logger(),
	}
}

// SetQueue replaces the queue; used when the pool is built after the service.
func (s *Service) SetQueue(queue Queue) {
	s.queue = queue
}

// Create persists a pending action for the alert and enqueues its execution.
// If the action cannot be enqueued it is failed immediately so it never stays pending.
func (s *Service) Create(ctx context.Context, alertID uuid.UUID, actionType domain.ActionType, metadata domain.Document) (domain.Action, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		return domain.Action{}, fmt.Errorf("load alert %s: %w", alertID, err)
	}

	action := domain.Action{
		AlertID:  alertID,
		Type:     actionType,
		Status:   domain.ActionPending,
		Metadata: metadata.Clone(),
	}
	if err := s.store.InsertAction(ctx, &action); err != nil {
		return domain.Action{}, fmt.Errorf("insert action: %w", err)
	}
	metrics.ActionsCreated.WithLabelValues(string(action.Type)).Inc()

	s.logger.Info().
		Str("alert_id", alertID.String()).
		Str("action_id", action.ID.String()).
		Str("action_type", string(action.Type)).
		Msg("action created")

	if err := s.queue.Enqueue(ctx, action.ID); err != nil {
		s.logger.Error().Err(err).Str("action_id", action.ID.String()).Msg("failed to enqueue action")
		if s.executor != nil {
			if failed, ferr := s.executor.Abandon(context.WithoutCancel(ctx), action.ID, err); ferr == nil {
				return failed, nil
			}
		}
		return action, fmt.Errorf("enqueue action %s: %w", action.ID, err)
	}
	return action, nil
}

// List returns an alert's actions oldest first.
func (s *Service) List(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		return nil, fmt.Errorf("load alert %s: %w", alertID, err)
	}
	return s.store.ListActions(ctx, alertID)
}

// ExecuteHandler adapts an Executor into a pool Handler that logs claim and persistence errors.
func ExecuteHandler(executor *Executor, logger zerolog.Logger) Handler {
	log := logger.With().Str("component", "action_worker").Logger()
	return func(ctx context.Context, actionID uuid.UUID) {
		if _, err := executor.Execute(ctx, actionID); err != nil {
			log.Error().Err(err).Str("action_id", actionID.String()).Msg("action execution failed")
		}
	}
}
