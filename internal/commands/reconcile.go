package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/export"
	"github.com/cleared-dev/trustrecon/internal/importer"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/reconcile"
)

func newReconcileCommand() *cobra.Command {
	var format string
	var preview, finalize bool

	cmd := &cobra.Command{
		Use:   "reconcile <account-id> <statement-file>",
		Short: "Match a bank statement against the ledger",
		Long: "Match a bank statement against the ledger and clear matched transactions.\n" +
			"With --finalize the matches are also reconciled and a job is sealed; reconciled\n" +
			"transactions can no longer be cleared or uncleared.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if preview && finalize {
				return fmt.Errorf("--preview and --finalize are mutually exclusive")
			}
			raw, err := readStatement(args[1], format)
			if err != nil {
				return err
			}
			stmt, err := importer.Parse(raw.Raw, raw.Format)
			if err != nil {
				return err
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
			engine := reconcile.NewEngine(p.store, p.cfg.Matching.DateToleranceDays)
			out := cmd.OutOrStdout()

			var (
				res   *reconcile.Result
				jobID string
			)
			switch {
			case preview:
				res, err = engine.Preview(ctx, acct.ID, stmt)
			case finalize:
				var job *model.ReconciliationJob
				res, job, err = engine.ReconcileAndFinalize(ctx, reconcile.RunParams{
					TrustAccountID: acct.ID,
					Statement:      stmt,
					StatementID:    raw.FileName,
					Actor:          p.actor,
					StartedAt:      nowUTC(),
				})
				if job != nil {
					jobID = job.ID
				}
			default:
				res, err = engine.Reconcile(ctx, acct.ID, stmt, p.actor)
			}
			if err != nil {
				return err
			}
			printResult(out, res, acct.Currency)
			if jobID != "" {
				fmt.Fprintf(out, "Sealed job %s\n", jobID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "statement format: csv, ofx or qfx (default: from extension)")
	cmd.Flags().BoolVar(&preview, "preview", false, "match without clearing anything")
	cmd.Flags().BoolVar(&finalize, "finalize", false, "reconcile matches and seal a job")
	return cmd
}

func printResult(w io.Writer, res *reconcile.Result, currency string) {
	fmt.Fprintf(w, "Period:              %s to %s\n", res.PeriodStart.Format(dateFormat), res.PeriodEnd.Format(dateFormat))
	fmt.Fprintf(w, "Matched:             %d\n", len(res.Matched))
	fmt.Fprintf(w, "Unmatched ledger:    %d\n", len(res.UnmatchedLedger))
	fmt.Fprintf(w, "Unmatched statement: %d\n", len(res.UnmatchedStatement))
	fmt.Fprintf(w, "Ledger balance:      %s\n", export.FormatMoney(res.LedgerBalance, currency))
	if res.StatementClosingBalance != nil {
		fmt.Fprintf(w, "Statement closing:   %s\n", export.FormatMoney(*res.StatementClosingBalance, currency))
	}
	if res.Discrepancy != nil {
		fmt.Fprintf(w, "Discrepancy:         %s\n", export.FormatMoney(*res.Discrepancy, currency))
	}
	for _, t := range res.UnmatchedLedger {
		fmt.Fprintf(w, "  ledger    %s  %s  %s  %s\n", t.ID, t.TransactionDate.Format(dateFormat), t.Amount.StringFixed(2), t.Description)
	}
	for _, t := range res.UnmatchedStatement {
		fmt.Fprintf(w, "  statement %s  %s  %s\n", t.Date.Format(dateFormat), t.Amount.StringFixed(2), t.Description)
	}
}
