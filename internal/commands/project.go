package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/trustrecon/internal/config"
	"github.com/cleared-dev/trustrecon/internal/importer"
	"github.com/cleared-dev/trustrecon/internal/logger"
	"github.com/cleared-dev/trustrecon/internal/model"
	"github.com/cleared-dev/trustrecon/internal/store"
)

const dateFormat = "2006-01-02"

// project is an opened trustrecon project: its config, database and logger-carrying context.
type project struct {
	dir   string
	cfg   *config.Config
	store *store.Store
	actor string
}

// openProject loads the config from --dir, opens the database and attaches a logger to the
// command context. Callers must Close the project.
func openProject(cmd *cobra.Command) (*project, context.Context, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, nil, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(absDir, config.FileName))
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(resolve(absDir, cfg.Database.Path))
	if err != nil {
		return nil, nil, err
	}

	actor, _ := cmd.Flags().GetString("actor")
	if actor == "" {
		actor = cfg.Organization.Actor
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Console).With().
		Str("org_id", cfg.Organization.ID).
		Str("command", cmd.CommandPath()).
		Logger()
	ctx := logger.WithContext(cmd.Context(), log)

	return &project{dir: absDir, cfg: cfg, store: st, actor: actor}, ctx, nil
}

func (p *project) Close() error {
	return p.store.Close()
}

// source builds the statement source selected by statements.source. The returned func releases it.
func (p *project) source(ctx context.Context) (importer.Source, func(), error) {
	switch p.cfg.Statements.Source {
	case "", "store":
		return &importer.StoreSource{Store: p.store}, func() {}, nil
	case "dir":
		return p.dirSource(), func() {}, nil
	case "gcs":
		src, err := importer.NewGCSSource(ctx, p.cfg.Statements.Bucket, p.cfg.Statements.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { _ = src.Close() }, nil
	}
	return nil, nil, &model.ValidationError{Field: "statements.source", Reason: fmt.Sprintf("unknown source %q", p.cfg.Statements.Source)}
}

func (p *project) dirSource() *importer.DirSource {
	dir := p.cfg.Statements.Dir
	if dir == "" {
		dir = "statements"
	}
	return &importer.DirSource{Dir: resolve(p.dir, dir)}
}

func nowUTC() time.Time { return time.Now().UTC() }

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

func parseDate(flag, s string) (time.Time, error) {
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return time.Time{}, &model.ValidationError{Field: flag, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}
