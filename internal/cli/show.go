package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smart-harvester/internal/app"
)

var (
	showLimit    int
	showAttempts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price samples or harvest attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:    showLimit,
			Attempts: showAttempts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showAttempts, "attempts", false, "Show harvest attempts instead of price samples")
}
