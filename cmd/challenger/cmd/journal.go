package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the equity and watchdog journal",
	Long: `Query records from the SQLite journal.

Subcommands:
  equity  - Equity curve of a challenge, one row per watchdog run
  actions - Liquidations, passes and close-alls of a challenge

Examples:
  challenger journal equity <challenge-id>
  challenger journal actions <challenge-id> --db ./challenger.db`,
}

var journalEquityCmd = &cobra.Command{
	Use:   "equity <challenge-id>",
	Short: "Print the equity curve of a challenge",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalEquity,
}

var journalActionsCmd = &cobra.Command{
	Use:   "actions <challenge-id>",
	Short: "Print the watchdog actions taken on a challenge",
	Args:  cobra.ExactArgs(1),
	RunE:  runJournalActions,
}

var journalDBPath string

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalEquityCmd)
	journalCmd.AddCommand(journalActionsCmd)

	journalCmd.PersistentFlags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal DB (default: journal.db_path)")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, fmt.Errorf("no journal database: set --db or journal.db_path")
	}
	j, err := journal.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}

func runJournalEquity(cmd *cobra.Command, args []string) error {
	if err := checkChallengeID(args[0]); err != nil {
		return err
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListEquity(args[0])
	if err != nil {
		return fmt.Errorf("list equity: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No equity records for %s\n", args[0])
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Time", "Balance", "Equity", "Realized", "Unrealized", "Danger %", "Status"})
	for _, r := range recs {
		table.Append([]string{
			r.Time.Format("2006-01-02 15:04:05"),
			fmt.Sprintf("%.2f", r.Balance),
			fmt.Sprintf("%.2f", r.Equity),
			fmt.Sprintf("%.2f", r.RealizedPnL),
			fmt.Sprintf("%.2f", r.UnrealizedPnL),
			fmt.Sprintf("%.1f", r.DangerLevel),
			r.Status,
		})
	}
	table.Render()
	return nil
}

func runJournalActions(cmd *cobra.Command, args []string) error {
	if err := checkChallengeID(args[0]); err != nil {
		return err
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	recs, err := j.ListActions(args[0])
	if err != nil {
		return fmt.Errorf("list actions: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No actions for %s\n", args[0])
		return nil
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Time", "Action", "Reason", "Closed", "Equity"})
	for _, r := range recs {
		table.Append([]string{
			r.Time.Format("2006-01-02 15:04:05"),
			r.Action,
			r.Reason,
			fmt.Sprintf("%d", r.ClosedPositions),
			fmt.Sprintf("%.2f", r.Equity),
		})
	}
	table.Render()
	return nil
}
