package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// RawStatement is an unparsed statement file as delivered by a Source.
type RawStatement struct {
	ID       string
	FileName string
	Format   string
	Raw      []byte
}

// Source returns the most recently delivered statement for a trust account.
// It returns a NotFoundError when the account has none.
//
//go:generate mockgen -destination=mocks/mock_source.go -package=mock_importer github.com/cleared-dev/trustrecon/internal/importer Source
type Source interface {
	Latest(ctx context.Context, trustAccountID string) (*RawStatement, error)
}

// FormatFromName infers the statement format from a file extension, or "" if unsupported.
func FormatFromName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv"
	case ".ofx":
		return "ofx"
	case ".qfx":
		return "qfx"
	}
	return ""
}

// StatementStore is the subset of the store that StoreSource reads from.
type StatementStore interface {
	LatestStatement(ctx context.Context, accountID string) (model.StoredStatement, error)
}

// StoreSource serves the latest statement ingested into the database.
type StoreSource struct {
	Store StatementStore
}

// Latest implements Source.
func (s *StoreSource) Latest(ctx context.Context, trustAccountID string) (*RawStatement, error) {
	st, err := s.Store.LatestStatement(ctx, trustAccountID)
	if err != nil {
		return nil, err
	}
	return &RawStatement{ID: st.ID, FileName: st.FileName, Format: st.Format, Raw: st.Raw}, nil
}

// processedDir is the per-account subdirectory for processed statements.
const processedDir = "processed"

// FileInfo describes a statement file in an account's import directory.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// DirSource serves statements dropped into <Dir>/<trustAccountID>/.
type DirSource struct {
	Dir string
}

// Scan returns the supported statement files for an account, oldest first.
func (s *DirSource) Scan(trustAccountID string) ([]FileInfo, error) {
	dir := filepath.Join(s.Dir, trustAccountID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || FormatFromName(e.Name()) == "" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name:    e.Name(),
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.Before(files[j].ModTime)
		}
		return files[i].Name < files[j].Name
	})
	return files, nil
}

// Latest implements Source.
func (s *DirSource) Latest(_ context.Context, trustAccountID string) (*RawStatement, error) {
	files, err := s.Scan(trustAccountID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &model.NotFoundError{Resource: "statement for account", ID: trustAccountID}
	}

	f := files[len(files)-1]
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return &RawStatement{
		ID:       trustAccountID + "/" + f.Name,
		FileName: f.Name,
		Format:   FormatFromName(f.Name),
		Raw:      raw,
	}, nil
}

// MarkProcessed moves a file from the account's import dir to its processed/ subdirectory.
func (s *DirSource) MarkProcessed(trustAccountID, fileName string) error {
	dir := filepath.Join(s.Dir, trustAccountID)
	dstDir := filepath.Join(dir, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	if err := os.Rename(filepath.Join(dir, fileName), filepath.Join(dstDir, fileName)); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
