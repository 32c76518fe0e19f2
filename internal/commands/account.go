package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/Rhymond/go-money"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/export"
	"github.com/cleared-dev/trustrecon/internal/ledger"
	"github.com/cleared-dev/trustrecon/internal/model"
)

func newAccountCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage trust accounts",
	}
	cmd.AddCommand(newAccountCreateCommand(), newAccountListCommand())
	return cmd
}

func newAccountCreateCommand() *cobra.Command {
	var name, currency string

	cmd := &cobra.Command{
		Use:   "create <account-id>",
		Short: "Create a trust account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			currency = strings.ToUpper(currency)
			if money.GetCurrency(currency) == nil {
				return &model.ValidationError{Field: "currency", Reason: "unknown currency " + currency}
			}
			acct := model.TrustAccount{
				ID:             args[0],
				OrganizationID: p.cfg.Organization.ID,
				Name:           name,
				Currency:       currency,
				Status:         model.AccountStatusActive,
				CreatedAt:      nowUTC(),
			}
			if err := p.store.CreateAccount(ctx, acct); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created trust account %s (%s)\n", acct.ID, acct.Currency)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "account name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&currency, "currency", "USD", "ISO 4217 currency code")
	return cmd
}

func newAccountListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trust accounts with their ledger balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			accts, err := p.store.ListAccounts(ctx, p.cfg.Organization.ID)
			if err != nil {
				return err
			}
			svc := ledger.NewService(p.store)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tBALANCE")
			for _, a := range accts {
				bal, err := svc.Balance(ctx, a.ID, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Status, export.FormatMoney(bal, a.Currency))
			}
			return tw.Flush()
		},
	}
}
