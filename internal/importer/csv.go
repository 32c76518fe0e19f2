package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// CSVParser parses bank CSV exports with arbitrary column layouts.
type CSVParser struct{}

type role int

const (
	roleDate role = iota + 1
	roleDescription
	roleAmount
	roleDebit
	roleCredit
	roleCheckNumber
	roleReference
)

// headerRoles maps normalized header text to a column role.
var headerRoles = map[string]role{
	"date":             roleDate,
	"transaction date": roleDate,
	"posting date":     roleDate,
	"posted date":      roleDate,
	"post date":        roleDate,
	"trans date":       roleDate,
	"value date":       roleDate,
	"booking date":     roleDate,

	"description":             roleDescription,
	"transaction description": roleDescription,
	"payee":                   roleDescription,
	"name":                    roleDescription,
	"memo":                    roleDescription,
	"narrative":               roleDescription,
	"details":                 roleDescription,

	"amount":             roleAmount,
	"transaction amount": roleAmount,
	"amt":                roleAmount,

	"debit":        roleDebit,
	"debits":       roleDebit,
	"debit amount": roleDebit,
	"withdrawal":   roleDebit,
	"withdrawals":  roleDebit,
	"money out":    roleDebit,
	"paid out":     roleDebit,

	"credit":        roleCredit,
	"credits":       roleCredit,
	"credit amount": roleCredit,
	"deposit":       roleCredit,
	"deposits":      roleCredit,
	"money in":      roleCredit,
	"paid in":       roleCredit,

	"check number":    roleCheckNumber,
	"check":           roleCheckNumber,
	"check no":        roleCheckNumber,
	"check #":         roleCheckNumber,
	"check or slip #": roleCheckNumber,
	"cheque number":   roleCheckNumber,
	"chk #":           roleCheckNumber,

	"reference":        roleReference,
	"reference number": roleReference,
	"ref":              roleReference,
	"transaction id":   roleReference,
	"fitid":            roleReference,
}

// dateFormats are tried in order; the first successful parse wins.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"1-2-06",
}

// Format returns the parser name.
func (p *CSVParser) Format() string { return "csv" }

// Parse reads a CSV statement. Rows whose date or amount cannot be parsed are skipped and
// counted; the import fails only when no row parses.
func (p *CSVParser) Parse(raw []byte) (*model.ParsedStatement, error) {
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, &model.ParseError{Format: "csv", Reason: fmt.Sprintf("reading csv: %v", err)}
	}
	if len(records) == 0 {
		return nil, &model.ParseError{Format: "csv", Reason: "empty file"}
	}

	cols, err := mapHeader(records[0])
	if err != nil {
		return nil, err
	}

	stmt := &model.ParsedStatement{Format: "csv"}
	for _, rec := range records[1:] {
		if blankRecord(rec) {
			continue
		}
		stmt.TotalRows++
		txn, ok := cols.parseRow(rec)
		if !ok {
			stmt.SkippedRows++
			continue
		}
		stmt.Transactions = append(stmt.Transactions, txn)
	}

	if len(stmt.Transactions) == 0 {
		return nil, &model.ParseError{Format: "csv", Reason: fmt.Sprintf("no transactions parsed from %d rows", stmt.TotalRows)}
	}
	periodOf(stmt)
	return stmt, nil
}

// columns holds the index of each role, -1 when absent.
type columns struct {
	date, description, amount, debit, credit, checkNumber, reference int
}

func mapHeader(header []string) (columns, error) {
	c := columns{-1, -1, -1, -1, -1, -1, -1}
	for i, h := range header {
		r, ok := headerRoles[normalizeHeader(h)]
		if !ok {
			continue
		}
		var slot *int
		switch r {
		case roleDate:
			slot = &c.date
		case roleDescription:
			slot = &c.description
		case roleAmount:
			slot = &c.amount
		case roleDebit:
			slot = &c.debit
		case roleCredit:
			slot = &c.credit
		case roleCheckNumber:
			slot = &c.checkNumber
		case roleReference:
			slot = &c.reference
		}
		if *slot == -1 {
			*slot = i
		}
	}

	if c.date == -1 {
		return c, &model.ParseError{Format: "csv", Reason: "missing date column"}
	}
	if c.amount == -1 && c.debit == -1 && c.credit == -1 {
		return c, &model.ParseError{Format: "csv", Reason: "missing amount or debit/credit columns"}
	}
	return c, nil
}

func (c columns) parseRow(rec []string) (model.StatementTransaction, bool) {
	date, ok := parseDate(field(rec, c.date))
	if !ok {
		return model.StatementTransaction{}, false
	}
	amount, ok := c.rowAmount(rec)
	if !ok {
		return model.StatementTransaction{}, false
	}
	return model.StatementTransaction{
		Date:        date,
		Description: strings.TrimSpace(field(rec, c.description)),
		Amount:      amount,
		Type:        model.TypeOf(amount),
		CheckNumber: strings.TrimSpace(field(rec, c.checkNumber)),
		Reference:   strings.TrimSpace(field(rec, c.reference)),
	}, true
}

// rowAmount returns the signed amount from the combined column, or from separate debit and
// credit columns. Debit magnitudes are negated whatever their printed sign.
func (c columns) rowAmount(rec []string) (decimal.Decimal, bool) {
	if c.amount != -1 {
		if a, ok := parseAmount(field(rec, c.amount)); ok {
			return a, true
		}
		if c.debit == -1 && c.credit == -1 {
			return decimal.Zero, false
		}
	}

	debit, hasDebit := parseAmount(field(rec, c.debit))
	credit, hasCredit := parseAmount(field(rec, c.credit))
	switch {
	case hasDebit && hasCredit:
		return credit.Abs().Sub(debit.Abs()), true
	case hasDebit:
		return debit.Abs().Neg(), true
	case hasCredit:
		return credit.Abs(), true
	}
	return decimal.Zero, false
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// normalizeHeader lowercases, strips a UTF-8 BOM, and collapses whitespace and underscores.
func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ReplaceAll(h, "_", " ")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseAmount accepts currency symbols, thousands separators and parenthesised negatives.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}

	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', ' ', '£', '€':
			return -1
		}
		return r
	}, s)
	s = strings.TrimPrefix(s, "+")

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if neg {
		d = d.Abs().Neg()
	}
	return d, true
}
