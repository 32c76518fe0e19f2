package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// Header is the CSV header for ledger postings.
const Header = "transaction_id,date,client_id,description,amount,category,check_number,reference,cleared_date"

const (
	numFields    = 9
	dateFormat   = "2006-01-02"
	colID        = 0
	colDate      = 1
	colClient    = 2
	colDesc      = 3
	colAmount    = 4
	colCategory  = 5
	colCheck     = 6
	colRef       = 7
	colClearedOn = 8
)

// ReadTransactions reads ledger postings from CSV. Unlike bank statements the ledger format is
// fixed and strict: any malformed row fails the whole read.
func ReadTransactions(r io.Reader) ([]model.TrustTransaction, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading ledger CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var txns []model.TrustTransaction
	for i, rec := range records[1:] {
		txn, err := UnmarshalTransaction(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// WriteTransactions writes ledger postings as CSV (including header).
func WriteTransactions(w io.Writer, txns []model.TrustTransaction) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, txn := range txns {
		if err := cw.Write(MarshalTransaction(txn)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalTransaction converts a transaction to a CSV row.
func MarshalTransaction(t model.TrustTransaction) []string {
	row := make([]string, numFields)
	row[colID] = t.ID
	row[colDate] = t.TransactionDate.Format(dateFormat)
	row[colClient] = t.ClientID
	row[colDesc] = t.Description
	row[colAmount] = t.Amount.StringFixed(2)
	row[colCategory] = t.Category
	row[colCheck] = t.CheckNumber
	row[colRef] = t.Reference
	if t.ClearedDate != nil {
		row[colClearedOn] = t.ClearedDate.Format(dateFormat)
	}
	return row
}

// UnmarshalTransaction converts a CSV row to a transaction. A cleared_date marks the posting
// as already cleared.
func UnmarshalTransaction(record []string) (model.TrustTransaction, error) {
	if len(record) != numFields {
		return model.TrustTransaction{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	date, err := time.Parse(dateFormat, record[colDate])
	if err != nil {
		return model.TrustTransaction{}, fmt.Errorf("parsing date %q: %w", record[colDate], err)
	}

	amount, err := decimal.NewFromString(record[colAmount])
	if err != nil {
		return model.TrustTransaction{}, fmt.Errorf("parsing amount %q: %w", record[colAmount], err)
	}

	txn := model.TrustTransaction{
		ID:              record[colID],
		TransactionDate: date,
		ClientID:        record[colClient],
		Description:     record[colDesc],
		Amount:          amount,
		Category:        record[colCategory],
		CheckNumber:     record[colCheck],
		Reference:       record[colRef],
	}

	if record[colClearedOn] != "" {
		cleared, err := time.Parse(dateFormat, record[colClearedOn])
		if err != nil {
			return model.TrustTransaction{}, fmt.Errorf("parsing cleared_date %q: %w", record[colClearedOn], err)
		}
		txn.IsCleared = true
		txn.ClearedDate = &cleared
	}
	return txn, nil
}
