package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/config"
	"github.com/cleared-dev/trustrecon/internal/id"
	"github.com/cleared-dev/trustrecon/internal/store"
)

func newInitCommand() *cobra.Command {
	var name, orgID, timezone string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new trustrecon project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(cmd, absDir, name, orgID, timezone)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "organization name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&orgID, "org-id", "", "organization ID (default: generated)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA time zone for business hours")

	return cmd
}

func runInit(cmd *cobra.Command, dir, name, orgID, timezone string) error {
	cfgPath := filepath.Join(dir, config.FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}

	if orgID == "" {
		orgID = id.New()
	}
	cfg := config.Default(orgID, name)
	cfg.Timezone = timezone
	cfg.Statements.Dir = "statements"
	if _, err := cfg.Location(); err != nil {
		return err
	}

	for _, d := range []string{"", cfg.Statements.Dir, "exports"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Opening the store creates the schema.
	st, err := store.Open(resolve(dir, cfg.Database.Path))
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	if err := st.Close(); err != nil {
		return err
	}

	gitignore := cfg.Database.Path + "\n" + cfg.Database.Path + "-*\nexports/\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized trustrecon project at %s (organization %s)\n", dir, orgID)
	return nil
}
