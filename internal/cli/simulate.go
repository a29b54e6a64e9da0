package cli

import (
	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
	"merchant-guard/internal/domain"
)

var (
	simulateRule    string
	simulateStore   string
	simulateWebhook string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic alert through the configured notification channels",
	RunE: func(cmd *cobra.Command, args []string) error {
		ruleType, err := domain.ParseRuleType(simulateRule)
		if err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			RuleType:   ruleType,
			StoreName:  simulateStore,
			WebhookURL: simulateWebhook,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateRule, "rule", string(domain.RuleRefundSpike), "Rule type to simulate")
	simulateCmd.Flags().StringVar(&simulateStore, "store-name", "", "Store name shown in the message")
	simulateCmd.Flags().StringVar(&simulateWebhook, "webhook", "", "Slack incoming webhook to post to")
}
