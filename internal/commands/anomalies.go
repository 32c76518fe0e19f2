package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/anomaly"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

func newAnomaliesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Detect and review anomalous transactions",
	}
	cmd.AddCommand(
		newAnomaliesScanCommand(),
		newAnomaliesListCommand(),
		newAnomaliesTransitionCommand(),
	)
	return cmd
}

// anomalyService builds an anomaly Service from the project's rule settings and time zone.
func (p *project) anomalyService() (*anomaly.Service, error) {
	loc, err := p.cfg.Location()
	if err != nil {
		return nil, err
	}
	return anomaly.NewService(p.store, anomaly.OptionsFromConfig(p.cfg.Anomaly, loc)), nil
}

func newAnomaliesScanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <account-id>",
		Short: "Run the anomaly rules over an account's ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			svc, err := p.anomalyService()
			if err != nil {
				return err
			}
			findings, res, err := svc.Scan(ctx, p.cfg.Organization.ID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d findings: %d new, %d updated, %d already closed\n",
				len(findings), res.Inserted, res.Updated, res.Skipped)
			return nil
		},
	}
}

func newAnomaliesListCommand() *cobra.Command {
	var accountID string
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List anomalies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			svc, err := p.anomalyService()
			if err != nil {
				return err
			}
			list, err := svc.List(ctx, store.AnomalyFilter{
				OrganizationID: p.cfg.Organization.ID,
				AccountID:      accountID,
				OpenOnly:       !all,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSEVERITY\tSCORE\tCATEGORY\tSTATUS\tTRANSACTION\tDETAILS")
			for _, a := range list {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n", a.ID, a.Severity, a.Score, a.Category, a.Status, a.TransactionID, a.Details)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "only this trust account")
	cmd.Flags().BoolVar(&all, "all", false, "include resolved, dismissed and escalated anomalies")
	return cmd
}

func newAnomaliesTransitionCommand() *cobra.Command {
	var notes, assignee string

	cmd := &cobra.Command{
		Use:   "transition <anomaly-id> <flagged|resolved|dismissed|escalated>",
		Short: "Move an anomaly through review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			svc, err := p.anomalyService()
			if err != nil {
				return err
			}
			a, err := svc.Transition(ctx, args[0], anomaly.TransitionRequest{
				To:         model.AnomalyStatus(args[1]),
				Actor:      p.actor,
				AssignedTo: assignee,
				Notes:      notes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Anomaly %s is now %s\n", a.ID, a.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "resolution notes or escalation reason")
	cmd.Flags().StringVar(&assignee, "assign", "", "reviewer to assign when flagging")
	return cmd
}
