package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/challenger/challenge"
	"github.com/rustyeddy/challenger/id"
)

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Open and list challenges",
	Long: `Manage challenge accounts.

Subcommands:
  create - Fund a new active challenge
  list   - List challenges by status

Examples:
  challenger challenge create --balance 10000
  challenger challenge list --status failed`,
}

var challengeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Fund a new active challenge",
	Args:  cobra.NoArgs,
	RunE:  runChallengeCreate,
}

var challengeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List challenges by status",
	Args:  cobra.NoArgs,
	RunE:  runChallengeList,
}

var (
	challengeBalance float64
	challengeStatus  string
)

func init() {
	rootCmd.AddCommand(challengeCmd)
	challengeCmd.AddCommand(challengeCreateCmd)
	challengeCmd.AddCommand(challengeListCmd)

	challengeCreateCmd.Flags().Float64VarP(&challengeBalance, "balance", "b", 5000, "starting balance")
	challengeListCmd.Flags().StringVarP(&challengeStatus, "status", "s", string(challenge.Active), "active, failed or passed")
}

func runChallengeCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.Desk.OpenChallenge(cmd.Context(), challengeBalance)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Challenge %s opened with $%.2f\n", c.ID, c.StartBalance)
	return nil
}

func runChallengeList(cmd *cobra.Command, args []string) error {
	status := challenge.Status(challengeStatus)
	switch status {
	case challenge.Active, challenge.Failed, challenge.Passed:
	default:
		return fmt.Errorf("unknown status %q", challengeStatus)
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.Stores.Challenges.ListByStatus(cmd.Context(), status)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"ID", "Start", "Equity", "Status", "Reason", "Created"})
	for _, c := range list {
		table.Append([]string{
			c.ID,
			fmt.Sprintf("%.2f", c.StartBalance),
			fmt.Sprintf("%.2f", c.Equity),
			string(c.Status),
			c.FailReason,
			c.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}

// checkChallengeID rejects a mistyped id before any store is opened.
func checkChallengeID(s string) error {
	if _, err := id.Time(s); err != nil {
		return fmt.Errorf("challenge id: %w", err)
	}
	return nil
}
