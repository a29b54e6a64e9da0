package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
)

var backfillOpts app.BackfillOptions

var backfillCmd = &cobra.Command{
	Use:   "backfill [file]",
	Short: "Append historical events from an NDJSON file",
	Long:  "Each line is an envelope {store_id, event_type, payload, received_at}. Use - to read stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillOpts.Notify && !backfillOpts.Evaluate {
			return fmt.Errorf("--notify requires --evaluate")
		}
		opts := backfillOpts
		opts.Path = args[0]
		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillOpts.StoreID, "store", "", "Store id for envelopes without store_id")
	backfillCmd.Flags().BoolVar(&backfillOpts.Evaluate, "evaluate", false, "Evaluate rules after each event")
	backfillCmd.Flags().BoolVar(&backfillOpts.Notify, "notify", false, "Send notifications for alerts raised during the backfill")
	backfillCmd.Flags().BoolVar(&backfillOpts.DryRun, "dry-run", false, "Decode the input without writing to storage")
}
