package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"

	"merchant-guard/internal/domain"
)

// BootstrapOptions describe the store to register.
type BootstrapOptions struct {
	Name             string
	ShopDomain       string
	PaymentAccountID string
	NotificationURL  string
}

// EvaluateOptions configure a one-off evaluation pass.
type EvaluateOptions struct {
	StoreID string
	Notify  bool
}

// Migrate applies pending database migrations.
func (a *App) Migrate(ctx context.Context) error {
	if a.Config.Database.DSN == "" {
		return errors.New("database.dsn not configured; nothing to migrate")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.Out, "schema is up to date")
		return nil
	}
	for _, name := range applied {
		fmt.Fprintf(a.Out, "applied %s\n", name)
	}
	return nil
}

// Bootstrap registers a store with the default rule set.
func (a *App) Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	store := &domain.Store{
		Name:             strings.TrimSpace(opts.Name),
		ShopDomain:       strings.TrimSpace(opts.ShopDomain),
		PaymentAccountID: strings.TrimSpace(opts.PaymentAccountID),
		NotificationURL:  strings.TrimSpace(opts.NotificationURL),
	}
	created, err := rt.pipeline.Bootstrap(ctx, store)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "store %s (%s)\n", store.ID, store.ShopDomain)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Rule\tType\tID")
	for _, rule := range created {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", rule.Name, rule.Type, rule.ID)
	}
	return writer.Flush()
}

// Evaluate runs every enabled rule of one store, or of every active store, once.
func (a *App) Evaluate(ctx context.Context, opts EvaluateOptions) error {
	rt, err := a.newRuntime(ctx, opts.Notify)
	if err != nil {
		return err
	}
	defer rt.Close()

	stores, err := rt.selectStores(ctx, opts.StoreID)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Store\tAlert\tRule Type\tSeverity\tTitle")
	var errs []error
	for _, store := range stores {
		created, err := rt.pipeline.EvaluateStore(ctx, store.ID, opts.Notify)
		if err != nil {
			a.Logger.Error().Err(err).Str("store_id", store.ID.String()).Msg("evaluation failed")
			errs = append(errs, err)
		}
		for _, alert := range created {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n", store.Name, alert.ID, alert.RuleType, alert.Severity, alert.Title)
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// ReviewRules runs the rule lifecycle review across active stores and prints what it disabled.
func (a *App) ReviewRules(ctx context.Context) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	reports, err := rt.pipeline.ReviewStores(ctx)
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Store\tReviewed\tRefreshed\tDisabled")
	for _, report := range reports {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%d\n", report.StoreID, report.Reviewed, report.Refreshed, len(report.Disabled))
	}
	if flushErr := writer.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// selectStores resolves an optional store id into the stores a command covers.
func (r *runtime) selectStores(ctx context.Context, raw string) ([]domain.Store, error) {
	if strings.TrimSpace(raw) == "" {
		return r.pipeline.Stores(ctx, true)
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid store id %q: %w", raw, err)
	}
	store, err := r.pipeline.Store(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load store %s: %w", id, err)
	}
	return []domain.Store{store}, nil
}
