package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mxctl",
	Short: "MoneyExchange operator toolbox",
	Long: `mxctl bundles the offline maintenance tasks of a MoneyExchange
deployment: generating the server's sealed keystore and auditing the
transaction ledger without a running server.`,
	SilenceUsage: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}
