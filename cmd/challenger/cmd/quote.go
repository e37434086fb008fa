package cmd

import (
	"fmt"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/market"
)

var quoteCmd = &cobra.Command{
	Use:   "quote [symbol...]",
	Short: "Fetch and print current prices",
	Long: `Refresh the price cache once from the configured feeds and print
quotes. With no symbols the whole watchlist is shown. Symbols without a
feed are priced synthetically and marked as such.

Examples:
  challenger quote
  challenger quote AAPL EUR_USD`,
	RunE: runQuote,
}

func init() {
	rootCmd.AddCommand(quoteCmd)
}

func runQuote(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.Prices.Refresh(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	symbols := args
	if len(symbols) == 0 {
		symbols = a.Prices.Watchlist()
	}
	quotes := make([]market.Quote, 0, len(symbols))
	for _, s := range symbols {
		quotes = append(quotes, a.Prices.GetPrice(s))
	}
	renderQuotes(cmd, quotes)
	return nil
}

func renderQuotes(cmd *cobra.Command, quotes []market.Quote) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Symbol", "Price", "Source", "Age"})
	for _, q := range quotes {
		table.Append([]string{
			q.Symbol,
			fmt.Sprintf("%.4f", q.Price),
			string(q.Source),
			(time.Duration(q.AgeMillis) * time.Millisecond).String(),
		})
	}
	table.Render()
}
