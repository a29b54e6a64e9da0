package cli

import (
	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
)

var evaluateOpts app.EvaluateOptions

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate enabled rules once and print the alerts raised",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), evaluateOpts)
	},
}

var reviewRulesCmd = &cobra.Command{
	Use:   "review-rules",
	Short: "Refresh rule action rates and disable stale rules nobody acts on",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ReviewRules(cmd.Context())
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateOpts.StoreID, "store", "", "Limit evaluation to one store")
	evaluateCmd.Flags().BoolVar(&evaluateOpts.Notify, "notify", false, "Send notifications for new alerts")
}
