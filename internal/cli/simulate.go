package cli

import (
	"github.com/spf13/cobra"
)

var simulateSymbol string

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive one detection cycle from synthetic data",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), simulateSymbol)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "TEST", "Symbol to simulate")
}
