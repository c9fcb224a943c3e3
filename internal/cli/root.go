package cli

import (
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "checksctl",
		Short:        "checksctl: one-shot Checks combination reports",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// prices print as JSON numbers, same as the HTTP API
			decimal.MarshalJSONWithoutQuotes = true
		},
	}
	cmd.PersistentFlags().String("log-level", "warn", "log level: debug|info|warn|error")
	cmd.AddCommand(optimizeCmd())
	return cmd
}
