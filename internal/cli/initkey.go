package cli

import (
	"github.com/spf13/cobra"

	"smart-harvester/internal/app"
)

var (
	initKeyGenerate bool
	initKeyFund     bool
)

var initKeyCmd = &cobra.Command{
	Use:   "init-key",
	Short: "Create the encrypted signing identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.InitKeyOptions{
			GenerateKey: initKeyGenerate,
			Fund:        initKeyFund,
		}
		return getApp().InitKey(cmd.Context(), opts)
	},
}

func init() {
	initKeyCmd.Flags().BoolVar(&initKeyGenerate, "generate-key", false, "Generate a fresh keystore key instead of reading it from the environment")
	initKeyCmd.Flags().BoolVar(&initKeyFund, "fund", false, "Request faucet funding for the new address")
}
