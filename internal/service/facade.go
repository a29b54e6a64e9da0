package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"merchant-guard/internal/alerts"
	"merchant-guard/internal/domain"
	"merchant-guard/internal/rules"
	"merchant-guard/internal/storage"
)

// Bootstrap registers a store and provisions the default rules.
func (p *Pipeline) Bootstrap(ctx context.Context, store *domain.Store) ([]domain.Rule, error) {
	if err := p.repo.InsertStore(ctx, store); err != nil {
		return nil, fmt.Errorf("insert store: %w", err)
	}
	defaults := rules.DefaultRules(store.ID)
	created := make([]domain.Rule, 0, len(defaults))
	for i := range defaults {
		if err := p.AddRule(ctx, &defaults[i]); err != nil {
			return created, err
		}
		created = append(created, defaults[i])
	}
	p.logger.Info().Str("store_id", store.ID.String()).Str("shop_domain", store.ShopDomain).Int("rules", len(created)).Msg("store bootstrapped")
	return created, nil
}

// AddRule validates the rule's conditions for its type and persists it.
func (p *Pipeline) AddRule(ctx context.Context, rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := rules.ValidateConditions(rule.Type, rule.Conditions); err != nil {
		return err
	}
	if err := p.repo.InsertRule(ctx, rule); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Store loads a tenant.
func (p *Pipeline) Store(ctx context.Context, id uuid.UUID) (domain.Store, error) {
	return p.repo.GetStore(ctx, id)
}

// Stores lists tenants.
func (p *Pipeline) Stores(ctx context.Context, activeOnly bool) ([]domain.Store, error) {
	return p.repo.ListStores(ctx, activeOnly)
}

// Rules lists a store's rules.
func (p *Pipeline) Rules(ctx context.Context, storeID uuid.UUID) ([]domain.Rule, error) {
	if _, err := p.repo.GetStore(ctx, storeID); err != nil {
		return nil, err
	}
	return p.repo.ListRules(ctx, storage.RuleFilter{StoreID: storeID})
}

// Alert loads one alert.
func (p *Pipeline) Alert(ctx context.Context, id uuid.UUID) (domain.Alert, error) {
	return p.repo.GetAlert(ctx, id)
}

// Alerts lists alerts newest first.
func (p *Pipeline) Alerts(ctx context.Context, filter storage.AlertFilter) ([]domain.Alert, error) {
	if filter.StoreID != uuid.Nil {
		if _, err := p.repo.GetStore(ctx, filter.StoreID); err != nil {
			return nil, err
		}
	}
	return p.repo.ListAlerts(ctx, filter)
}

// Summary aggregates the store's alert outcomes.
func (p *Pipeline) Summary(ctx context.Context, storeID uuid.UUID) (storage.Summary, error) {
	if _, err := p.repo.GetStore(ctx, storeID); err != nil {
		return storage.Summary{}, err
	}
	return p.repo.StoreSummary(ctx, storeID)
}

// ActionMenu returns the buttons offered for the alert.
func (p *Pipeline) ActionMenu(ctx context.Context, alertID uuid.UUID) ([]alerts.Button, error) {
	alert, err := p.repo.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	return alerts.Menu(alert.RuleType), nil
}

// CreateAction schedules a remediation action on the alert.
func (p *Pipeline) CreateAction(ctx context.Context, alertID uuid.UUID, actionType domain.ActionType, metadata domain.Document) (domain.Action, error) {
	return p.comp.Actions.Create(ctx, alertID, actionType, metadata)
}

// Actions lists the alert's actions.
func (p *Pipeline) Actions(ctx context.Context, alertID uuid.UUID) ([]domain.Action, error) {
	return p.comp.Actions.List(ctx, alertID)
}

// ResolveAlert resolves an active alert and records its savings.
func (p *Pipeline) ResolveAlert(ctx context.Context, alertID uuid.UUID, actor string) (domain.Alert, error) {
	alert, err := p.comp.Lifecycle.Resolve(ctx, alertID, actor)
	if err != nil {
		return domain.Alert{}, err
	}
	return p.comp.Lifecycle.CalculateSavings(ctx, alert)
}

// DismissAlert dismisses an active alert.
func (p *Pipeline) DismissAlert(ctx context.Context, alertID uuid.UUID, actor string) (domain.Alert, error) {
	return p.comp.Lifecycle.Dismiss(ctx, alertID, actor)
}
