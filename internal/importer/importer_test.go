package importer

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/trustrecon/internal/model"
)

func TestRegistry_DefaultHasBuiltins(t *testing.T) {
	r := DefaultRegistry()
	for _, f := range []string{"csv", "CSV", "ofx", "Qfx", " ofx "} {
		assert.NotNil(t, r.Get(f), f)
	}
	assert.Nil(t, r.Get("pdf"))

	formats := r.Formats()
	sort.Strings(formats)
	assert.Equal(t, []string{"csv", "ofx", "qfx"}, formats)
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&CSVParser{})
	assert.Panics(t, func() { r.Register(&CSVParser{}) })
}

func TestParse_UnknownFormat(t *testing.T) {
	_, err := Parse([]byte("x"), "pdf")
	var pe *model.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "pdf", pe.Format)
}

func TestParse_QFXUsesOFXParser(t *testing.T) {
	stmt, err := Parse([]byte(sampleOFX), "qfx")
	require.NoError(t, err)
	assert.Equal(t, "qfx", stmt.Format)
	assert.Len(t, stmt.Transactions, 2)
}

func TestFormatFromName(t *testing.T) {
	assert.Equal(t, "csv", FormatFromName("jan.CSV"))
	assert.Equal(t, "ofx", FormatFromName("a/b/jan.ofx"))
	assert.Equal(t, "qfx", FormatFromName("jan.qfx"))
	assert.Equal(t, "", FormatFromName("jan.pdf"))
	assert.Equal(t, "", FormatFromName("README"))
}

func TestDirSource_LatestAndMarkProcessed(t *testing.T) {
	dir := t.TempDir()
	acct := filepath.Join(dir, "acct-1")
	require.NoError(t, os.MkdirAll(acct, 0o755))

	older := filepath.Join(acct, "dec.csv")
	newer := filepath.Join(acct, "jan.ofx")
	require.NoError(t, os.WriteFile(older, []byte("Date,Amount\n2023-12-01,1\n"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte(sampleOFX), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(acct, "notes.txt"), []byte("x"), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	src := &DirSource{Dir: dir}
	files, err := src.Scan("acct-1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "dec.csv", files[0].Name)

	raw, err := src.Latest(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "jan.ofx", raw.FileName)
	assert.Equal(t, "ofx", raw.Format)
	assert.Equal(t, "acct-1/jan.ofx", raw.ID)

	require.NoError(t, src.MarkProcessed("acct-1", "jan.ofx"))
	_, err = os.Stat(filepath.Join(acct, "processed", "jan.ofx"))
	assert.NoError(t, err)

	raw, err = src.Latest(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "dec.csv", raw.FileName)
}

func TestDirSource_MissingAccount(t *testing.T) {
	src := &DirSource{Dir: t.TempDir()}
	files, err := src.Scan("nope")
	require.NoError(t, err)
	assert.Nil(t, files)

	_, err = src.Latest(context.Background(), "nope")
	assert.True(t, model.IsNotFound(err))
}

type fakeStatementStore struct {
	st  model.StoredStatement
	err error
}

func (f fakeStatementStore) LatestStatement(context.Context, string) (model.StoredStatement, error) {
	return f.st, f.err
}

func TestStoreSource(t *testing.T) {
	src := &StoreSource{Store: fakeStatementStore{st: model.StoredStatement{ID: "s1", FileName: "jan.csv", Format: "csv", Raw: []byte("raw")}}}
	raw, err := src.Latest(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, &RawStatement{ID: "s1", FileName: "jan.csv", Format: "csv", Raw: []byte("raw")}, raw)

	src = &StoreSource{Store: fakeStatementStore{err: &model.NotFoundError{Resource: "statement", ID: "acct-1"}}}
	_, err = src.Latest(context.Background(), "acct-1")
	assert.True(t, model.IsNotFound(err))
}

func TestGCSSource_ObjectPrefix(t *testing.T) {
	s := &GCSSource{bucket: "b", prefix: "statements"}
	assert.Equal(t, "statements/acct-1/", s.objectPrefix("acct-1"))
	s.prefix = ""
	assert.Equal(t, "acct-1/", s.objectPrefix("acct-1"))
}
