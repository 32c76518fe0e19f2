package commands

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/reconcile"
	"github.com/cleared-dev/trustrecon/internal/schedule"
)

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage automated reconciliation schedules",
	}
	cmd.AddCommand(
		newScheduleAddCommand(),
		newScheduleListCommand(),
		newScheduleDeactivateCommand(),
		newScheduleRunCommand(),
		newScheduleRunDueCommand(),
		newScheduleAlertsCommand(),
	)
	return cmd
}

// scheduler wires a Scheduler to the project's store and configured statement source.
func (p *project) scheduler(ctx context.Context) (*schedule.Scheduler, func(), error) {
	src, release, err := p.source(ctx)
	if err != nil {
		return nil, nil, err
	}
	engine := reconcile.NewEngine(p.store, p.cfg.Matching.DateToleranceDays)
	return schedule.New(p.store, engine, src, p.cfg.Scheduler), release, nil
}

func newScheduleAddCommand() *cobra.Command {
	var frequency, at, timezone string
	var dayOfWeek, dayOfMonth int

	cmd := &cobra.Command{
		Use:   "add <account-id>",
		Short: "Add a daily, weekly or monthly schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			if timezone == "" {
				timezone = p.cfg.Timezone
			}
			sch := model.ReconciliationSchedule{
				OrganizationID: p.cfg.Organization.ID,
				TrustAccountID: args[0],
				Frequency:      model.Frequency(frequency),
				TimeOfDay:      at,
				Timezone:       timezone,
			}
			switch sch.Frequency {
			case model.FrequencyWeekly:
				sch.DayOfWeek = &dayOfWeek
			case model.FrequencyMonthly:
				sch.DayOfMonth = &dayOfMonth
			}

			s, release, err := p.scheduler(ctx)
			if err != nil {
				return err
			}
			defer release()

			created, err := s.Create(ctx, sch)
			if err != nil {
				return err
			}
			next, err := schedule.NextRun(created, created.CreatedAt)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created schedule %s, next run %s\n", created.ID, next.Format("2006-01-02 15:04 MST"))
			return nil
		},
	}

	cmd.Flags().StringVar(&frequency, "frequency", "daily", "daily, weekly or monthly")
	cmd.Flags().StringVar(&at, "time", "06:00", "time of day (HH:MM, 24h)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA time zone (default: project timezone)")
	cmd.Flags().IntVar(&dayOfWeek, "day-of-week", 0, "weekly: 0=Sunday..6=Saturday")
	cmd.Flags().IntVar(&dayOfMonth, "day-of-month", 1, "monthly: 1..31, clamped to the month's last day")
	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules with their next run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			schedules, err := p.store.ListSchedules(ctx, p.cfg.Organization.ID, !all)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACCOUNT\tFREQUENCY\tTIME\tACTIVE\tLAST RUN\tNEXT RUN")
			for _, s := range schedules {
				last, base := "-", s.CreatedAt
				if s.LastRunAt != nil {
					last, base = s.LastRunAt.Format("2006-01-02 15:04"), *s.LastRunAt
				}
				next := "-"
				if n, err := schedule.NextRun(s, base); err == nil && s.IsActive {
					next = n.Format("2006-01-02 15:04 MST")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", s.ID, s.TrustAccountID, s.Frequency, s.TimeOfDay, s.IsActive, last, next)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "include inactive schedules")
	return cmd
}

func newScheduleDeactivateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <schedule-id>",
		Short: "Stop a schedule from running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			s, release, err := p.scheduler(ctx)
			if err != nil {
				return err
			}
			defer release()

			if err := s.Deactivate(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated schedule %s\n", args[0])
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *model.ReconciliationJob) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job %s %s: matched %d, unmatched ledger %d, unmatched statement %d",
		job.ID, job.Status, job.MatchedCount, job.UnmatchedLedgerCount, job.UnmatchedStatementCount)
	if job.Discrepancy != nil {
		fmt.Fprintf(out, ", discrepancy %s", job.Discrepancy.StringFixed(2))
	}
	if job.ErrorDetail != "" {
		fmt.Fprintf(out, ", error: %s", job.ErrorDetail)
	}
	fmt.Fprintln(out)
}

func newScheduleRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run <schedule-id>",
		Short: "Run a schedule's reconciliation now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			sch, err := p.store.GetSchedule(ctx, args[0])
			if err != nil {
				return err
			}
			s, release, err := p.scheduler(ctx)
			if err != nil {
				return err
			}
			defer release()

			job, err := s.RunAutomatedReconciliation(ctx, p.cfg.Organization.ID, sch.TrustAccountID, sch.ID, p.actor)
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newScheduleRunDueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Run every schedule whose next run has passed (for cron)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			s, release, err := p.scheduler(ctx)
			if err != nil {
				return err
			}
			defer release()

			report, err := s.RunDue(ctx, p.cfg.Organization.ID, p.actor)
			if err != nil {
				return err
			}
			for i := range report.Jobs {
				printJob(cmd, &report.Jobs[i])
			}
			for _, sk := range report.Skipped {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipped schedule %s (%s): %v\n", sk.ScheduleID, sk.TrustAccountID, sk.Err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d run, %d skipped\n", len(report.Jobs), len(report.Skipped))
			return nil
		},
	}
}

func newScheduleAlertsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "Show overdue, failing and out-of-balance schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			s, release, err := p.scheduler(ctx)
			if err != nil {
				return err
			}
			defer release()

			alerts, err := s.Alerts(ctx, p.cfg.Organization.ID)
			if err != nil {
				return err
			}
			if len(alerts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No alerts")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEVERITY\tKIND\tACCOUNT\tSCHEDULE\tMESSAGE")
			for _, a := range alerts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Severity, a.Kind, a.TrustAccountID, a.ScheduleID, a.Message)
			}
			return tw.Flush()
		},
	}
}
