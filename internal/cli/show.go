package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"merchant-guard/internal/app"
)

var (
	showLimit int
	showStore string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display store savings and recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			StoreID: showStore,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of alerts to display per store")
	showCmd.Flags().StringVar(&showStore, "store", "", "Limit output to one store")
}
