package commands

import (
	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/buildinfo"
	"github.com/cleared-dev/trustrecon/internal/config"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "trustrecon",
		Short:   "Trust account reconciliation and integrity checks",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("dir", ".", "project directory containing "+config.FileName)
	rootCmd.PersistentFlags().String("actor", "", "actor recorded in the audit log (default: organization.actor)")

	rootCmd.AddCommand(
		newInitCommand(),
		newAccountCommand(),
		newLedgerCommand(),
		newStatementCommand(),
		newReconcileCommand(),
		newScheduleCommand(),
		newAnomaliesCommand(),
		newInterestCommand(),
		newExportCommand(),
	)

	return rootCmd
}
