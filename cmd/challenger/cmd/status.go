package cmd

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/risk"
)

var statusCmd = &cobra.Command{
	Use:   "status <challenge-id>",
	Short: "Show equity, positions and rule headroom",
	Long: `Print the watchdog's read-only view of a challenge: equity, open
positions marked to the current price, loss against each rule and any
warnings. Nothing is changed.

Example:
  challenger status 01HX...`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var watchdogCmd = &cobra.Command{
	Use:   "watchdog [challenge-id]",
	Short: "Run the watchdog and enforce the rules",
	Long: `Evaluate one challenge, or every active challenge when no id is given,
and enforce the result: a breached challenge is liquidated and failed, one
that reached the profit target is passed.

Examples:
  challenger watchdog 01HX...
  challenger watchdog`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchdog,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchdogCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := checkChallengeID(args[0]); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	a.Prices.Refresh(cmd.Context())

	rep, err := a.Watchdog.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printStatus(cmd.OutOrStdout(), rep, a.Watchdog.Rules())
	return nil
}

func printStatus(out io.Writer, rep risk.StatusReport, rules risk.Rules) {
	m := rep.Metrics
	fmt.Fprintf(out, "Challenge %s: %s (%s)\n", rep.ChallengeID, rep.Status, rep.ChallengeStatus)
	if rep.FailReason != "" {
		fmt.Fprintf(out, "  Reason: %s\n", rep.FailReason)
	}
	fmt.Fprintf(out, "  Equity: $%.2f  Start: $%.2f  Day start: $%.2f\n", m.CurrentEquity, m.InitialBalance, m.DayStartEquity)
	fmt.Fprintf(out, "  Danger: %.1f%% (%s)  Can trade: %t\n\n", rep.DangerLevel, rep.Level, rep.CanTrade)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Rule", "Now %", "Limit %", "Danger %"})
	table.Append([]string{"daily loss", pct(m.DailyLossPct), pct(rules.DailyLossLimitPct * 100), pct(m.DailyDangerPct)})
	table.Append([]string{"max drawdown", pct(m.TotalDrawdownPct), pct(rules.MaxDrawdownPct * 100), pct(m.DrawdownDangerPct)})
	table.Append([]string{"profit target", pct(m.ProfitPct), pct(rules.ProfitTargetPct * 100), pct(m.ProfitProgressPct)})
	table.Render()

	if len(rep.Equity.Positions) > 0 {
		fmt.Fprintln(out)
		positions := tablewriter.NewWriter(out)
		positions.SetHeader([]string{"Symbol", "Side", "Qty", "Entry", "Mark", "P/L", "Source"})
		for _, p := range rep.Equity.Positions {
			positions.Append([]string{
				p.Symbol,
				string(p.Side),
				fmt.Sprintf("%g", p.Qty),
				fmt.Sprintf("%.4f", p.EntryPrice),
				fmt.Sprintf("%.4f", p.CurrentPrice),
				fmt.Sprintf("%.2f", p.UnrealizedPnL),
				string(p.PriceSource),
			})
		}
		positions.Render()
	}

	for _, v := range rep.Violations {
		fmt.Fprintf(out, "✗ %s: %s\n", v.Code, v.Msg)
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(out, "⚠ %s (%s): %s\n", w.Code, w.Severity, w.Msg)
	}
}

func pct(x float64) string { return fmt.Sprintf("%.2f", x) }

func runWatchdog(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		if err := checkChallengeID(args[0]); err != nil {
			return err
		}
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	a.Prices.Refresh(cmd.Context())

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		n, err := a.Sweep(cmd.Context())
		fmt.Fprintf(out, "Checked %d active challenge(s)\n", n)
		return err
	}

	res, err := a.Watchdog.Execute(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Challenge %s: %s, action %s, equity $%.2f\n", res.ChallengeID, res.Status, res.ActionTaken, res.Equity)
	if res.FailReason != "" {
		fmt.Fprintf(out, "  Reason: %s\n", res.FailReason)
	}
	for _, t := range res.ClosedPositions {
		fmt.Fprintf(out, "  closed %s %g %s @ %.4f\n", t.Side, t.Qty, t.Symbol, t.Price)
	}
	return nil
}
