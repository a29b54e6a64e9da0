package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"merchant-guard/internal/actions"
	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
	"merchant-guard/internal/metrics"
	"merchant-guard/internal/notify"
	"merchant-guard/internal/rules"
	"merchant-guard/internal/storage"
)

// Components are the collaborators a Pipeline drives.
type Components struct {
	Events    *eventlog.Log
	Lifecycle *alerts.Lifecycle
	Rules     *rules.Manager
	Actions   *actions.Service
	// Notifier is optional; nil disables notification delivery.
	Notifier notify.Notifier
}

// Options tune pipeline policy.
type Options struct {
	DedupeActive    bool
	NotifyTimeout   time.Duration
	AdvisoryLockKey int64
	Now             func() time.Time
}

// IngestOptions select the stages that follow an append.
type IngestOptions struct {
	Evaluate bool
	Notify   bool
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	Event  domain.Event
	Alerts []domain.Alert
}

// Pipeline runs ingestion, evaluation, alerting and notification as explicit stages.
type Pipeline struct {
	repo   storage.Repository
	locker storage.AdvisoryLocker
	comp   Components
	opts   Options
	logger zerolog.Logger
}

// New constructs a Pipeline over a repository.
func New(repo storage.Repository, comp Components, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = 10 * time.Second
	}

	var locker storage.AdvisoryLocker
	if l, ok := repo.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Pipeline{
		repo:   repo,
		locker: locker,
		comp:   comp,
		opts:   opts,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Ingest appends an event and, when asked, evaluates the store's rules and notifies on new alerts.
// Only a failed append is returned as an error. Once the event is stored, evaluation
// failures are logged and the appended event is returned with a nil error.
func (p *Pipeline) Ingest(ctx context.Context, draft eventlog.Draft, opts IngestOptions) (IngestResult, error) {
	event, err := p.comp.Events.Append(ctx, draft)
	if err != nil {
		return IngestResult{}, err
	}
	result := IngestResult{Event: event}
	if !opts.Evaluate {
		return result, nil
	}

	// the event is stored; later stage failures are logged so callers never re-append it
	store, err := p.repo.GetStore(ctx, event.StoreID)
	if err != nil {
		p.logger.Error().Err(err).Str("store_id", event.StoreID.String()).Str("event_id", event.ID.String()).Msg("load store for evaluation failed")
		return result, nil
	}
	if store.Status != domain.StoreActive {
		p.logger.Debug().Str("store_id", store.ID.String()).Str("status", string(store.Status)).Msg("skip evaluation for inactive store")
		return result, nil
	}

	created, err := p.evaluate(ctx, store, opts.Notify)
	result.Alerts = created
	if err != nil {
		p.logger.Error().Err(err).Str("store_id", store.ID.String()).Str("event_id", event.ID.String()).Msg("rule evaluation failed")
	}
	return result, nil
}

// EvaluateStore evaluates every enabled rule of the store and returns the alerts it created.
func (p *Pipeline) EvaluateStore(ctx context.Context, storeID uuid.UUID, notifyNew bool) ([]domain.Alert, error) {
	store, err := p.repo.GetStore(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("load store %s: %w", storeID, err)
	}
	return p.evaluate(ctx, store, notifyNew)
}

func (p *Pipeline) evaluate(ctx context.Context, store domain.Store, notifyNew bool) ([]domain.Alert, error) {
	enabled, err := p.repo.ListRules(ctx, storage.RuleFilter{StoreID: store.ID, EnabledOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	var (
		created []domain.Alert
		errs    []error
	)
	now := p.opts.Now()
	for _, rule := range enabled {
		res, err := rules.Evaluate(ctx, rule, p.comp.Events, now)
		if err != nil {
			metrics.RuleEvaluations.WithLabelValues(string(rule.Type), "error").Inc()
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			continue
		}
		if !res.Triggered {
			metrics.RuleEvaluations.WithLabelValues(string(rule.Type), "quiet").Inc()
			continue
		}
		metrics.RuleEvaluations.WithLabelValues(string(rule.Type), "triggered").Inc()

		alert, isNew, err := p.RaiseAlert(ctx, store, rule, res.Evidence, notifyNew)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if isNew {
			created = append(created, alert)
		}
	}
	return created, errors.Join(errs...)
}

// RaiseAlert turns a trigger into an alert. With dedupe on, an already active alert of the same
// rule type absorbs the trigger and only the rule's last-triggered time moves.
func (p *Pipeline) RaiseAlert(ctx context.Context, store domain.Store, rule domain.Rule, evidence domain.Document, notifyNew bool) (domain.Alert, bool, error) {
	if p.opts.DedupeActive {
		active, err := p.repo.ListAlerts(ctx, storage.AlertFilter{
			StoreID:  store.ID,
			Status:   domain.AlertActive,
			RuleType: rule.Type,
			Limit:    1,
		})
		if err != nil {
			return domain.Alert{}, false, fmt.Errorf("look up active alerts: %w", err)
		}
		if len(active) > 0 {
			if err := p.comp.Lifecycle.Touch(ctx, rule); err != nil {
				return domain.Alert{}, false, err
			}
			metrics.AlertsDeduplicated.WithLabelValues(string(rule.Type)).Inc()
			p.logger.Debug().
				Str("store_id", store.ID.String()).
				Str("rule_id", rule.ID.String()).
				Str("alert_id", active[0].ID.String()).
				Msg("trigger absorbed by active alert")
			return active[0], false, nil
		}
	}

	alert, err := p.comp.Lifecycle.CreateFromTrigger(ctx, rule, evidence)
	if err != nil {
		return domain.Alert{}, false, err
	}
	if notifyNew {
		p.deliver(ctx, store, alert)
	}
	return alert, true, nil
}

// deliver never fails the caller; delivery errors are logged.
func (p *Pipeline) deliver(ctx context.Context, store domain.Store, alert domain.Alert) {
	if p.comp.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.NotifyTimeout)
	defer cancel()

	if err := p.comp.Notifier.Notify(ctx, notify.Build(store, alert)); err != nil {
		p.logger.Error().Err(err).
			Str("store_id", store.ID.String()).
			Str("alert_id", alert.ID.String()).
			Msg("failed to dispatch alert notification")
	}
}

// SweepRules re-evaluates every active store; time-based rules fire here without new events.
func (p *Pipeline) SweepRules(ctx context.Context, tick time.Time) error {
	stores, err := p.repo.ListStores(ctx, true)
	if err != nil {
		return fmt.Errorf("list stores: %w", err)
	}

	var errs []error
	raised := 0
	for _, store := range stores {
		created, err := p.evaluate(ctx, store, true)
		raised += len(created)
		if err != nil {
			p.logger.Error().Err(err).Str("store_id", store.ID.String()).Msg("sweep evaluation failed")
			errs = append(errs, err)
		}
	}
	p.logger.Info().Time("tick", tick).Int("stores", len(stores)).Int("alerts", raised).Msg("rule sweep finished")
	return errors.Join(errs...)
}

// ReviewRules runs the rule lifecycle review for every active store. When the repository
// supports advisory locks only one node runs a given review.
func (p *Pipeline) ReviewRules(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := p.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.Debug().Time("tick", tick).Msg("skip rule review because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	_, err = p.reviewAll(ctx, tick)
	return err
}

// ReviewStores is ReviewRules returning the per-store reports.
func (p *Pipeline) ReviewStores(ctx context.Context) ([]rules.Review, error) {
	return p.reviewAll(ctx, p.opts.Now())
}

func (p *Pipeline) reviewAll(ctx context.Context, tick time.Time) ([]rules.Review, error) {
	stores, err := p.repo.ListStores(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}

	reports := make([]rules.Review, 0, len(stores))
	disabled := 0
	for _, store := range stores {
		report, err := p.comp.Rules.Review(ctx, store.ID)
		if err != nil {
			return reports, fmt.Errorf("review store %s: %w", store.ID, err)
		}
		disabled += len(report.Disabled)
		reports = append(reports, report)
	}
	p.logger.Info().Time("tick", tick).Int("stores", len(stores)).Int("disabled", disabled).Msg("rule review finished")
	return reports, nil
}

func (p *Pipeline) acquireLock(ctx context.Context) (func(), bool, error) {
	if p.opts.AdvisoryLockKey == 0 || p.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := p.locker.TryAdvisoryLock(ctx, p.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
