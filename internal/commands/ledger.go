package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/export"
	"github.com/cleared-dev/trustrecon/internal/ledger"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Post and clear trust ledger transactions",
	}
	cmd.AddCommand(
		newLedgerImportCommand(),
		newLedgerClearCommand(),
		newLedgerUnclearCommand(),
		newLedgerBalanceCommand(),
	)
	return cmd
}

func newLedgerImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <account-id> <file.csv>",
		Short: "Post ledger transactions from a CSV file",
		Long:  "Post ledger transactions from a CSV file with the header\n" + ledger.Header,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			f, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[1], err)
			}
			defer f.Close()

			posted, err := ledger.NewService(p.store).Import(ctx, args[0], f, p.actor)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Posted %d transactions to %s\n", len(posted), args[0])
			return nil
		},
	}
}

func newLedgerClearCommand() *cobra.Command {
	var on string

	cmd := &cobra.Command{
		Use:   "clear <transaction-id>",
		Short: "Mark a transaction cleared",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, err := parseDate("date", on)
			if err != nil {
				return err
			}
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := ledger.NewService(p.store).Clear(ctx, args[0], date, p.actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s on %s\n", args[0], on)
			return nil
		},
	}

	cmd.Flags().StringVar(&on, "date", nowUTC().Format(dateFormat), "cleared date (YYYY-MM-DD)")
	return cmd
}

func newLedgerUnclearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unclear <transaction-id>",
		Short: "Remove the cleared flag from an unreconciled transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := ledger.NewService(p.store).Unclear(ctx, args[0], p.actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uncleared %s\n", args[0])
			return nil
		},
	}
}

func newLedgerBalanceCommand() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the ledger balance by client sub-ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var at *time.Time
			if asOf != "" {
				d, err := parseDate("as-of", asOf)
				if err != nil {
					return err
				}
				at = &d
			}
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			acct, err := p.store.GetAccount(ctx, args[0])
			if err != nil {
				return err
			}
			svc := ledger.NewService(p.store)
			clients, err := svc.ClientBalances(ctx, acct.ID, at)
			if err != nil {
				return err
			}
			total, err := svc.Balance(ctx, acct.ID, at)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT\tBALANCE")
			for _, c := range clients {
				fmt.Fprintf(tw, "%s\t%s\n", c.ClientID, export.FormatMoney(c.Balance, acct.Currency))
			}
			fmt.Fprintf(tw, "TOTAL\t%s\n", export.FormatMoney(total, acct.Currency))
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", "", "balance as of this date (YYYY-MM-DD)")
	return cmd
}
