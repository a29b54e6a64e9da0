package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/storage"
)

const defaultExportWindow = 30 * 24 * time.Hour

// Export renders alerts as CSV and/or a PNG chart of cumulative savings and action rate.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rt, err := a.newRuntime(ctx, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	stores, err := rt.selectStores(ctx, opts.StoreID)
	if err != nil {
		return err
	}

	var collected []domain.Alert
	for _, store := range stores {
		list, err := rt.pipeline.Alerts(ctx, storage.AlertFilter{StoreID: store.ID, Since: from, Until: to})
		if err != nil {
			return err
		}
		collected = append(collected, list...)
	}
	if len(collected) == 0 {
		a.Logger.Info().Msg("no alerts found for export window")
		return nil
	}
	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].CreatedAt.Before(collected[j].CreatedAt)
	})

	downsampled := downsampleAlerts(collected, opts.MaxPoints)
	a.Logger.Info().Int("total", len(collected)).Int("exported", len(downsampled)).Msg("exporting alerts")

	if opts.CSVPath != "" {
		if err := writeAlertsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeAlertsPNG(opts.PNGPath, collected, opts.MaxPoints); err != nil {
			return err
		}
	}
	return nil
}

func downsampleAlerts(list []domain.Alert, max int) []domain.Alert {
	if max <= 0 || len(list) <= max {
		return list
	}
	if max == 1 {
		return list[len(list)-1:]
	}
	return pick(list, downsampleIndexes(len(list), max))
}

func writeAlertsCSV(path string, list []domain.Alert) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "alert_id", "store_id", "rule_type", "severity", "status", "title", "resolved_at", "resolved_by", "money_saved", "time_saved", "action_rate", "actions_total", "actions_succeeded"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, alert := range list {
		resolvedAt := ""
		if alert.ResolvedAt != nil {
			resolvedAt = alert.ResolvedAt.UTC().Format(time.RFC3339)
		}
		money := ""
		if alert.MoneySaved.Valid {
			money = alert.MoneySaved.Decimal.StringFixed(2)
		}
		minutes := ""
		if alert.TimeSaved != nil {
			minutes = strconv.Itoa(*alert.TimeSaved)
		}
		record := []string{
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.ID.String(),
			alert.StoreID.String(),
			string(alert.RuleType),
			string(alert.Severity),
			string(alert.Status),
			alert.Title,
			resolvedAt,
			alert.ResolvedBy,
			money,
			minutes,
			strconv.FormatFloat(alert.ActionRate, 'f', 2, 64),
			strconv.Itoa(alert.ActionsTotal),
			strconv.Itoa(alert.ActionsSucceeded),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// savingsSeries accumulates money saved in creation order; running totals are computed before
// downsampling so the curve stays exact.
func savingsSeries(list []domain.Alert) ([]time.Time, []float64, []float64) {
	x := make([]time.Time, len(list))
	saved := make([]float64, len(list))
	rate := make([]float64, len(list))
	total := decimal.Zero
	for i, alert := range list {
		if alert.MoneySaved.Valid {
			total = total.Add(alert.MoneySaved.Decimal)
		}
		x[i] = alert.CreatedAt
		saved[i] = total.InexactFloat64()
		rate[i] = alert.ActionRate
	}
	return x, saved, rate
}

func writeAlertsPNG(path string, list []domain.Alert, maxPoints int) error {
	if len(list) < 2 {
		return errors.New("at least two alerts are required to render a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x, saved, rate := savingsSeries(list)
	if maxPoints > 1 && len(x) > maxPoints {
		idx := downsampleIndexes(len(x), maxPoints)
		x, saved, rate = pick(x, idx), pick(saved, idx), pick(rate, idx)
	}

	moneyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Money saved (cumulative)",
			ValueFormatter: moneyFormatter,
			Range:          paddedRange(saved),
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Action rate (%)",
			ValueFormatter: moneyFormatter,
			Range:          paddedRange(rate),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Money saved",
				XValues: x,
				YValues: saved,
			},
			chart.TimeSeries{
				Name:    "Action rate %",
				XValues: x,
				YValues: rate,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// paddedRange widens a flat series so the axis never has a zero delta.
func paddedRange(values []float64) *chart.ContinuousRange {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo == 0 {
		lo, hi = lo-1, hi+1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func downsampleIndexes(n, max int) []int {
	out := make([]int, 0, max)
	step := float64(n-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= n {
			idx = n - 1
		}
		out = append(out, idx)
	}
	return out
}

func pick[T any](values []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
