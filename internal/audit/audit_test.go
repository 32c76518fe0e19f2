package audit

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshal(t *testing.T) {
	ts := time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)
	e := New(ts, "org-1", "user-9", ActionTransactionCleared, "transaction", "txn-1", "matched statement row 1")

	got, err := UnmarshalEntry(MarshalEntry(e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestNewNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	e := New(time.Date(2024, 1, 5, 9, 0, 0, 0, loc), "org-1", "u", ActionJobSealed, "job", "j1", "")
	assert.Equal(t, time.UTC, e.Timestamp.Location())
	assert.Equal(t, 14, e.Timestamp.Hour())
	assert.NotEmpty(t, e.ID)
}

func TestWriteReadCSV(t *testing.T) {
	ts := time.Date(2024, 1, 5, 14, 30, 0, 0, time.UTC)
	entries := []Entry{
		New(ts, "org-1", "user-9", ActionTransactionCleared, "transaction", "txn-1", "a, quoted \"detail\""),
		New(ts.Add(time.Minute), "org-1", "user-9", ActionJobSealed, "job", "job-1", ""),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, entries))
	assert.True(t, strings.HasPrefix(buf.String(), Header+"\n"))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	got, err := ReadCSV(strings.NewReader(Header + "\n"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnmarshalEntry_BadTimestamp(t *testing.T) {
	_, err := UnmarshalEntry([]string{"yesterday", "o", "a", "x", "r", "id", "", "e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing timestamp")
}

func TestUnmarshalEntry_WrongFieldCount(t *testing.T) {
	_, err := UnmarshalEntry([]string{"a", "b"})
	require.Error(t, err)
}
