package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/desk"
	"github.com/rustyeddy/challenger/ledger"
	"github.com/rustyeddy/challenger/market"
)

var tradeCmd = &cobra.Command{
	Use:   "trade <challenge-id> <buy|sell> <symbol> <qty>",
	Short: "Place a trade against a challenge",
	Long: `Place a market trade. The fill price is --price when given, otherwise the
current quote after one refresh of the watchlist. The watchdog runs right
after the fill and may liquidate the challenge.

Example:
  challenger trade 01HX... buy AAPL 10
  challenger trade 01HX... sell EUR_USD 1000 --price 1.0842`,
	Args: cobra.ExactArgs(4),
	RunE: runTrade,
}

var closeAllCmd = &cobra.Command{
	Use:   "close-all <challenge-id>",
	Short: "Close every open position at the current price",
	Args:  cobra.ExactArgs(1),
	RunE:  runCloseAll,
}

var tradePrice float64

func init() {
	rootCmd.AddCommand(tradeCmd)
	rootCmd.AddCommand(closeAllCmd)

	tradeCmd.Flags().Float64VarP(&tradePrice, "price", "p", 0, "fill price (default: cached quote)")
}

func runTrade(cmd *cobra.Command, args []string) error {
	qty, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}
	order := desk.Order{
		ChallengeID: args[0],
		Side:        ledger.Side(strings.ToLower(args[1])),
		Symbol:      strings.ToUpper(args[2]),
		Qty:         qty,
		Price:       tradePrice,
	}
	if err := order.Validate(); err != nil {
		return err
	}
	if err := checkChallengeID(order.ChallengeID); err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	if order.Price == 0 {
		a.Prices.Refresh(cmd.Context())
	}

	fill, err := a.Desk.PlaceTrade(cmd.Context(), order)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	t := fill.Trade
	fmt.Fprintf(out, "✓ %s %s %g @ %.4f (%s)\n", strings.ToUpper(string(t.Side)), t.Symbol, t.Qty, t.Price, orManual(fill.PriceSource))
	fmt.Fprintf(out, "  Trade: %s  Commission: $%.2f\n", t.ID, fill.Commission)
	fmt.Fprintf(out, "  Equity: $%.2f  Realized: $%.2f  Unrealized: $%.2f\n",
		fill.Equity.Equity, fill.Equity.RealizedPnL, fill.Equity.UnrealizedPnL)
	fmt.Fprintf(out, "  Watchdog: %s  Challenge: %s\n", fill.Watchdog.Status, fill.ChallengeStatus)
	if len(fill.Watchdog.ClosedPositions) > 0 {
		fmt.Fprintf(out, "  ⚠ Liquidated %d position(s): %s\n", len(fill.Watchdog.ClosedPositions), fill.Watchdog.FailReason)
	}
	return nil
}

func runCloseAll(cmd *cobra.Command, args []string) error {
	if err := checkChallengeID(args[0]); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	a.Prices.Refresh(cmd.Context())

	res, err := a.Desk.CloseAll(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Symbol", "Side", "Qty", "Price"})
	for _, t := range res.Closed {
		table.Append([]string{t.Symbol, string(t.Side), fmt.Sprintf("%g", t.Qty), fmt.Sprintf("%.4f", t.Price)})
	}
	table.Render()
	fmt.Fprintf(cmd.OutOrStdout(), "Closed %d position(s). Equity: $%.2f\n", len(res.Closed), res.Equity.Equity)
	return nil
}

func orManual(s market.Source) string {
	if s == "" {
		return "manual"
	}
	return string(s)
}
