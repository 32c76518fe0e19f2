package audit

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cleared-dev/trustrecon/internal/id"
)

// Actions recorded alongside financial mutations.
const (
	ActionTransactionCleared    = "transaction.cleared"
	ActionTransactionUncleared  = "transaction.uncleared"
	ActionTransactionReconciled = "transaction.reconciled"
	ActionTransactionPosted     = "transaction.posted"
	ActionJobSealed             = "reconciliation.sealed"
	ActionJobFailed             = "reconciliation.failed"
	ActionAnomalyTransition     = "anomaly.transition"
	ActionInterestApportioned   = "interest.apportioned"
	ActionStatementIngested     = "statement.ingested"
)

// Entry is one row in the audit log. Entries are append-only.
type Entry struct {
	ID             string
	Timestamp      time.Time
	OrganizationID string
	Actor          string
	Action         string
	Resource       string
	ResourceID     string
	Details        string
}

// New builds an entry with a fresh ID.
func New(at time.Time, orgID, actor, action, resource, resourceID, details string) Entry {
	return Entry{
		ID:             id.New(),
		Timestamp:      at.UTC(),
		OrganizationID: orgID,
		Actor:          actor,
		Action:         action,
		Resource:       resource,
		ResourceID:     resourceID,
		Details:        details,
	}
}

// Header is the CSV header for audit exports.
const Header = "timestamp,organization_id,actor,action,resource,resource_id,details,entry_id"

const (
	numFields     = 8
	colTimestamp  = 0
	colOrg        = 1
	colActor      = 2
	colAction     = 3
	colResource   = 4
	colResourceID = 5
	colDetails    = 6
	colEntryID    = 7
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colOrg] = e.OrganizationID
	row[colActor] = e.Actor
	row[colAction] = e.Action
	row[colResource] = e.Resource
	row[colResourceID] = e.ResourceID
	row[colDetails] = e.Details
	row[colEntryID] = e.ID
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	return Entry{
		ID:             record[colEntryID],
		Timestamp:      ts,
		OrganizationID: record[colOrg],
		Actor:          record[colActor],
		Action:         record[colAction],
		Resource:       record[colResource],
		ResourceID:     record[colResourceID],
		Details:        record[colDetails],
	}, nil
}

// WriteCSV writes entries with a header row.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads entries written by WriteCSV.
func ReadCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
