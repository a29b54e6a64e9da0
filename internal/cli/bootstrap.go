package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
)

var bootstrapOpts app.BootstrapOptions

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Register a store and provision its default rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bootstrapOpts.Name == "" || bootstrapOpts.ShopDomain == "" || bootstrapOpts.PaymentAccountID == "" {
			return fmt.Errorf("--name, --shop-domain and --payment-account must be provided")
		}
		return getApp().Bootstrap(cmd.Context(), bootstrapOpts)
	},
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.Name, "name", "", "Store display name")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.ShopDomain, "shop-domain", "", "Storefront domain, e.g. acme.myshopify.com")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.PaymentAccountID, "payment-account", "", "Payment processor account id")
	bootstrapCmd.Flags().StringVar(&bootstrapOpts.NotificationURL, "webhook", "", "Slack incoming webhook for alert notifications")
}
