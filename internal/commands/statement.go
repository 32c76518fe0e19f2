package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/importer"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
)

func newStatementCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Parse and ingest bank statements",
	}
	cmd.AddCommand(newStatementParseCommand(), newStatementIngestCommand())
	return cmd
}

// readStatement loads a statement file, inferring the format from its extension unless given.
func readStatement(path, format string) (*importer.RawStatement, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	name := filepath.Base(path)
	if format == "" {
		format = importer.FormatFromName(name)
	}
	return &importer.RawStatement{ID: name, FileName: name, Format: format, Raw: raw}, nil
}

func printStatement(w io.Writer, stmt *model.ParsedStatement) {
	fmt.Fprintf(w, "Format:       %s\n", stmt.Format)
	fmt.Fprintf(w, "Period:       %s to %s\n", stmt.PeriodStart.Format(dateFormat), stmt.PeriodEnd.Format(dateFormat))
	fmt.Fprintf(w, "Transactions: %d\n", len(stmt.Transactions))
	fmt.Fprintf(w, "Skipped rows: %d of %d (%.1f%%)\n", stmt.SkippedRows, stmt.TotalRows, stmt.SkipRatio()*100)
	if stmt.ClosingBalance != nil {
		fmt.Fprintf(w, "Closing:      %s\n", stmt.ClosingBalance.StringFixed(2))
	}
}

func newStatementParseCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a statement file and print a summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readStatement(args[0], format)
			if err != nil {
				return err
			}
			stmt, err := importer.Parse(raw.Raw, raw.Format)
			if err != nil {
				return err
			}
			printStatement(cmd.OutOrStdout(), stmt)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "statement format: csv, ofx or qfx (default: from extension)")
	return cmd
}

func newStatementIngestCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "ingest <account-id> [file]",
		Short: "Store a statement for scheduled reconciliation",
		Long: "Store a statement for scheduled reconciliation. Without a file, every pending file in\n" +
			"the account's statements directory is ingested oldest first and moved to processed/.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ctx, err := openProject(cmd)
			if err != nil {
				return err
			}
			defer p.Close()

			in := importer.NewIngester(p.store)
			out := cmd.OutOrStdout()
			accountID := args[0]

			if len(args) == 2 {
				raw, err := readStatement(args[1], format)
				if err != nil {
					return err
				}
				st, parsed, err := in.Ingest(ctx, accountID, raw, p.actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Ingested %s as %s\n", raw.FileName, st.ID)
				printStatement(out, parsed)
				return nil
			}

			src := p.dirSource()
			files, err := src.Scan(accountID)
			if err != nil {
				return err
			}
			log := logger.FromContext(ctx)
			ingested := 0
			for _, f := range files {
				raw, err := readStatement(f.Path, "")
				if err != nil {
					return err
				}
				st, _, err := in.Ingest(ctx, accountID, raw, p.actor)
				if err != nil {
					log.Warn().Err(err).Str("file", f.Name).Msg("statement not ingested")
					continue
				}
				if err := src.MarkProcessed(accountID, f.Name); err != nil {
					return err
				}
				fmt.Fprintf(out, "Ingested %s as %s\n", f.Name, st.ID)
				ingested++
			}
			fmt.Fprintf(out, "%d of %d files ingested\n", ingested, len(files))
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "statement format: csv, ofx or qfx (default: from extension)")
	return cmd
}
