package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/storage"
)

// Show prints each store's savings summary followed by its most recent alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	stores, err := rt.selectStores(ctx, opts.StoreID)
	if err != nil {
		return err
	}
	if len(stores) == 0 {
		fmt.Fprintln(a.Out, "no stores found")
		return nil
	}

	for i, store := range stores {
		if i > 0 {
			fmt.Fprintln(a.Out)
		}
		summary, err := rt.pipeline.Summary(ctx, store.ID)
		if err != nil {
			return err
		}
		recent, err := rt.pipeline.Alerts(ctx, storage.AlertFilter{StoreID: store.ID, Limit: opts.Limit})
		if err != nil {
			return err
		}
		if err := a.printStore(store, summary, recent); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) printStore(store domain.Store, summary storage.Summary, recent []domain.Alert) error {
	fmt.Fprintf(a.Out, "%s (%s) %s\n", store.Name, store.ShopDomain, store.ID)
	fmt.Fprintf(a.Out, "money saved $%s, time saved %d min, average action rate %.1f%%, alerts active/resolved/dismissed %d/%d/%d\n",
		summary.MoneySaved.StringFixed(2), summary.TimeSaved, summary.AverageActionRate,
		summary.Active, summary.Resolved, summary.Dismissed)

	if len(recent) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tRule Type\tSeverity\tStatus\tAction Rate\tMoney Saved\tTitle")
	for _, alert := range recent {
		saved := "-"
		if alert.MoneySaved.Valid {
			saved = alert.MoneySaved.Decimal.StringFixed(2)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%.1f%%\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.RuleType,
			alert.Severity,
			alert.Status,
			alert.ActionRate,
			saved,
			sanitizeInline(alert.Title),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
