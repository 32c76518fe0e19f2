package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/export"
	"github.com/cleared-dev/trustrecon/internal/interest"
	"github.com/cleared-dev/trustrecon/internal/model"
)

func newInterestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interest",
		Short: "Apportion earned interest across client sub-ledgers",
	}
	cmd.AddCommand(newInterestDistributeCommand())
	return cmd
}

func newInterestDistributeCommand() *cobra.Command {
	var start, end, total, fees, csvPath string
	var iolta, record bool

	cmd := &cobra.Command{
		Use:   "distribute <account-id>",
		Short: "Compute average daily balances and apportion interest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := interest.Request{TrustAccountID: args[0], IOLTA: iolta}
			var err error
			if req.PeriodStart, err = parseDate("start", start); err != nil {
				return err
			}
			if req.PeriodEnd, err = parseDate("end", end); err != nil {
				return err
			}
			if req.TotalInterest, err = decimal.NewFromString(total); err != nil {
				return &model.ValidationError{Field: "interest", Reason: "not a decimal amount"}
			}
			if req.BankFees, err = decimal.NewFromString(fees); err != nil {
				return &model.ValidationError{Field: "fees", Reason: "not a decimal amount"}
			}

			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			calc := interest.NewCalculator(p.store)
			report, err := calc.Calculate(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLIENT\tADB\tSHARE\tINTEREST")
			for _, a := range report.Apportionments {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ClientID,
					export.FormatMoney(a.AverageDailyBalance, report.Currency), a.Share.StringFixed(4),
					export.FormatMoney(a.Amount, report.Currency))
			}
			fmt.Fprintf(tw, "TOTAL\t%s\t\t%s\n",
				export.FormatMoney(report.TotalAverageDailyBalance, report.Currency),
				export.FormatMoney(report.TotalInterestEarned, report.Currency))
			if err := tw.Flush(); err != nil {
				return err
			}
			if r := report.Remittance; r != nil {
				fmt.Fprintf(out, "IOLTA remittance: %s (gross %s, fees %s)\n",
					export.FormatMoney(r.Net, report.Currency),
					export.FormatMoney(r.Gross, report.Currency),
					export.FormatMoney(r.Fees, report.Currency))
			}

			if csvPath != "" {
				f, err := os.Create(csvPath)
				if err != nil {
					return fmt.Errorf("creating %s: %w", csvPath, err)
				}
				defer f.Close()
				if err := export.WriteInterestReport(f, report); err != nil {
					return err
				}
			}

			if record {
				posted, err := calc.Record(ctx, report, p.actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Recorded %d interest postings\n", len(posted))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&end, "end", "", "period end, inclusive (YYYY-MM-DD, required)")
	cmd.Flags().StringVar(&total, "interest", "", "total interest credited for the period (required)")
	cmd.Flags().StringVar(&fees, "fees", "0", "bank fees charged for the period")
	cmd.Flags().BoolVar(&iolta, "iolta", false, "compute the IOLTA foundation remittance")
	cmd.Flags().BoolVar(&record, "record", false, "post the apportionments to the ledger")
	cmd.Flags().StringVar(&csvPath, "csv", "", "also write the report to this CSV file")
	for _, f := range []string{"start", "end", "interest"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
