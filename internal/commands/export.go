package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/export"
	"github.com/cleared-dev/trustrecon/internal/store"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export history as CSV",
	}
	cmd.AddCommand(newExportJobsCommand(), newExportAuditCommand())
	return cmd
}

// withOutput calls fn with the file at path, or the command's stdout when path is empty.
func withOutput(cmd *cobra.Command, path string, fn func(w io.Writer) error) error {
	if path == "" {
		return fn(cmd.OutOrStdout())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newExportJobsCommand() *cobra.Command {
	var accountID, scheduleID, out string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Export reconciliation job history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			jobs, err := p.store.ListJobs(ctx, store.JobFilter{
				OrganizationID: p.cfg.Organization.ID,
				AccountID:      accountID,
				ScheduleID:     scheduleID,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			return withOutput(cmd, out, func(w io.Writer) error { return export.WriteJobs(w, jobs) })
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "only this trust account")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "only this schedule")
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent N jobs (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func newExportAuditCommand() *cobra.Command {
	var resourceID, action, out string
	var limit int

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Export the audit log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			entries, err := p.store.ListAudit(ctx, store.AuditFilter{
				OrganizationID: p.cfg.Organization.ID,
				ResourceID:     resourceID,
				Action:         action,
				Limit:          limit,
			})
			if err != nil {
				return err
			}
			return withOutput(cmd, out, func(w io.Writer) error { return export.WriteAudit(w, entries) })
		},
	}

	cmd.Flags().StringVar(&resourceID, "resource", "", "only entries for this resource ID")
	cmd.Flags().StringVar(&action, "action", "", "only this action, e.g. transaction.cleared")
	cmd.Flags().IntVar(&limit, "limit", 0, "most recent N entries (0 = all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}
