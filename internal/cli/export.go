package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
)

var (
	exportOpts app.ExportOptions
	exportFrom string
	exportTo   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export alerts as CSV and/or a PNG savings chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportOpts.CSVPath == "" && exportOpts.PNGPath == "" {
			return fmt.Errorf("at least one of --csv or --png is required")
		}

		opts := exportOpts
		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo); err != nil {
			return err
		}
		if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

// parseTimeFlag accepts RFC3339 timestamps or plain dates (UTC midnight).
func parseTimeFlag(name, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", name, raw)
}

func init() {
	exportCmd.Flags().StringVar(&exportOpts.StoreID, "store", "", "Limit export to one store")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Start of the alert window (RFC3339 or date, inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "End of the alert window (RFC3339 or date, exclusive)")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write alert rows as CSV")
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write the savings chart")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum alerts to export (defaults to config)")
}
