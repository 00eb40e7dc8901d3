package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kayi2215/bot/internal/app"
)

var (
	showLimit  int
	showTrades bool
	showSymbol string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent API metrics or trade decisions",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Trades: showTrades,
			Symbol: showSymbol,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showTrades, "trades", false, "Show trade decisions instead of API metrics")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Filter trades by symbol")
}
