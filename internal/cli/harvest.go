package cli

import (
	"github.com/spf13/cobra"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Submit a single harvest transaction immediately",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Harvest(cmd.Context())
	},
}
