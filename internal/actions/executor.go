package actions

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/storage"
)

// Store is the persistence the executor needs.
type Store interface {
	storage.TenantStore
	storage.AlertStore
	storage.ActionStore
}

// ExecutorOptions tune action execution. RecordAttempts and RecordBackoff bound the
// retries of the terminal status write.
type ExecutorOptions struct {
	Timeout        time.Duration
	Now            func() time.Time
	RecordAttempts int
	RecordBackoff  time.Duration
}

// Executor runs one action through processing to a terminal status.
type Executor struct {
	store     Store
	lifecycle *alerts.Lifecycle
	rem       Remediation
	timeout   time.Duration
	attempts  int
	backoff   time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(store Store, lifecycle *alerts.Lifecycle, rem Remediation, opts ExecutorOptions, logger zerolog.Logger) *Executor {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if opts.RecordAttempts <= 0 {
		opts.RecordAttempts = 5
	}
	if opts.RecordBackoff <= 0 {
		opts.RecordBackoff = 100 * time.Millisecond
	}
	return &Executor{
		store:     store,
		lifecycle: lifecycle,
		rem:       rem,
		timeout:   opts.Timeout,
		attempts:  opts.RecordAttempts,
		backoff:   opts.RecordBackoff,
		now:       now,
		logger:    logger.With().Str("component", "action_executor").Logger(),
	}
}

// Execute claims a pending action, performs its operation and records the outcome.
// Operation failures become a failed action, not an error; the error return covers
// claiming and persisting only. The alert's action rate is recomputed once per terminal transition.
func (e *Executor) Execute(ctx context.Context, id uuid.UUID) (domain.Action, error) {
	action, err := e.store.TransitionAction(ctx, id, domain.ActionPending, domain.ActionProcessing, nil, nil)
	if err != nil {
		return domain.Action{}, fmt.Errorf("claim action %s: %w", id, err)
	}

	started := e.now()
	opCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	patch, runErr := e.perform(opCtx, action)

	return e.finish(ctx, action, patch, runErr, started)
}

// Abandon fails a pending action that could not be scheduled.
func (e *Executor) Abandon(ctx context.Context, id uuid.UUID, cause error) (domain.Action, error) {
	action, err := e.store.TransitionAction(ctx, id, domain.ActionPending, domain.ActionProcessing, nil, nil)
	if err != nil {
		return domain.Action{}, fmt.Errorf("claim action %s: %w", id, err)
	}
	return e.finish(ctx, action, nil, fmt.Errorf("schedule action: %w", cause), e.now())
}

func (e *Executor) finish(ctx context.Context, action domain.Action, patch domain.Document, runErr error, started time.Time) (domain.Action, error) {
	to := domain.ActionSuccessful
	if patch == nil {
		patch = domain.Document{}
	}
	if runErr != nil {
		to = domain.ActionFailed
		patch["error"] = runErr.Error()
	}

	// a claimed action must reach a terminal status even if the caller has gone away
	ctx = context.WithoutCancel(ctx)
	executedAt := e.now()
	final, err := e.record(ctx, action, to, patch, executedAt)
	if err != nil {
		e.logger.Error().Err(err).
			Str("action_id", action.ID.String()).
			Str("status", string(to)).
			Msg("action outcome not recorded; action left in processing")
		return domain.Action{}, fmt.Errorf("record action %s outcome: %w", action.ID, err)
	}

	if _, err := e.lifecycle.RecomputeActionRate(ctx, final.AlertID); err != nil {
		e.logger.Error().Err(err).Str("alert_id", final.AlertID.String()).Msg("failed to recompute action rate")
	}

	metrics.ActionsFinished.WithLabelValues(string(final.Type), string(final.Status)).Inc()
	metrics.ActionDuration.WithLabelValues(string(final.Type)).Observe(executedAt.Sub(started).Seconds())

	log := e.logger.Info()
	if runErr != nil {
		log = e.logger.Warn().Str("reason", runErr.Error())
	}
	log.Str("action_id", final.ID.String()).
		Str("alert_id", final.AlertID.String()).
		Str("action_type", string(final.Type)).
		Str("status", string(final.Status)).
		Msg("action finished")
	return final, nil
}

// record writes the terminal transition, retrying transient storage failures with
// exponential backoff. A rejected transition or a missing action is not retried.
func (e *Executor) record(ctx context.Context, action domain.Action, to domain.ActionStatus, patch domain.Document, executedAt time.Time) (domain.Action, error) {
	backoff := e.backoff
	var err error
	for attempt := 1; ; attempt++ {
		var final domain.Action
		final, err = e.store.TransitionAction(ctx, action.ID, domain.ActionProcessing, to, patch, &executedAt)
		if err == nil {
			return final, nil
		}
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) || attempt >= e.attempts {
			return domain.Action{}, err
		}
		e.logger.Warn().Err(err).
			Str("action_id", action.ID.String()).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retrying action outcome write")
		time.Sleep(backoff)
		backoff *= 2
	}
}

// perform converts panics into errors so an action never stays in processing.
func (e *Executor) perform(ctx context.Context, action domain.Action) (patch domain.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("action_executor").Inc()
			e.logger.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Str("action_id", action.ID.String()).
				Msg("action panic recovered")
			patch, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return e.run(ctx, action)
}

func (e *Executor) run(ctx context.Context, action domain.Action) (domain.Document, error) {
	alert, err := e.store.GetAlert(ctx, action.AlertID)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	store, err := e.store.GetStore(ctx, alert.StoreID)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	switch action.Type {
	case domain.ActionRefreshOrder:
		orderID := alert.Metadata.String("order_id")
		if orderID == "" {
			return nil, &domain.MissingEvidenceError{Field: "order_id"}
		}
		res, err := call("refresh order", func() (CallResult, error) { return e.rem.Orders.RefreshOrder(ctx, store, orderID) })
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, errors.New("Failed to refresh order")
		}
		return domain.Document{"order_id": orderID, "reference": res.Reference}, nil

	case domain.ActionSendEmail:
		res, err := call("send email", func() (CallResult, error) { return e.rem.Mailer.SendAlertEmail(ctx, store, alert) })
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, errors.New("Failed to send email")
		}
		return domain.Document{"message_id": res.Reference}, nil

	case domain.ActionMarkResolved:
		actor := action.Metadata.String("actor")
		if actor == "" {
			actor = "action:" + action.ID.String()
		}
		resolved, err := e.lifecycle.Resolve(ctx, alert.ID, actor)
		if err != nil {
			return nil, err
		}
		saved, err := e.lifecycle.CalculateSavings(ctx, resolved)
		if err != nil {
			return nil, err
		}
		patch := domain.Document{"resolved_by": actor}
		if saved.MoneySaved.Valid {
			patch["money_saved"] = saved.MoneySaved.Decimal.StringFixed(2)
		}
		if saved.TimeSaved != nil {
			patch["time_saved"] = *saved.TimeSaved
		}
		return patch, nil

	case domain.ActionRetryPayment:
		intentID := alert.Metadata.String("payment_intent_id")
		res, err := call("retry payment", func() (CallResult, error) { return e.rem.Payments.RetryPayment(ctx, store, intentID) })
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, errors.New("Failed to retry payment")
		}
		return domain.Document{"payment_intent_id": intentID, "reference": res.Reference}, nil

	case domain.ActionContactCustomer:
		email := alert.Metadata.String("customer_email")
		if email == "" {
			return nil, &domain.MissingEvidenceError{Field: "customer_email"}
		}
		res, err := call("contact customer", func() (CallResult, error) { return e.rem.Mailer.ContactCustomer(ctx, store, email, alert) })
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, errors.New("Failed to contact customer")
		}
		return domain.Document{"customer_email": email, "reference": res.Reference}, nil

	case domain.ActionUpdateFulfillment:
		orderID := alert.Metadata.String("order_id")
		res, err := call("update fulfillment", func() (CallResult, error) { return e.rem.Orders.UpdateFulfillment(ctx, store, orderID) })
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, errors.New("Failed to update fulfillment")
		}
		return domain.Document{"order_id": orderID, "reference": res.Reference}, nil

	default:
		return nil, fmt.Errorf("unsupported action type %q", action.Type)
	}
}

func call(operation string, fn func() (CallResult, error)) (CallResult, error) {
	res, err := fn()
	if err != nil {
		return CallResult{}, &domain.ExternalCallError{Operation: operation, Err: err}
	}
	return res, nil
}
