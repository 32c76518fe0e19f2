package importer

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/trustrecon/internal/model"
)

// OFXParser parses OFX and QFX statements. Both are SGML-like and frequently omit closing
// tags, so values are pulled out with per-tag scans instead of an XML decoder.
type OFXParser struct {
	format string
}

var (
	stmtTrnOpen  = regexp.MustCompile(`(?i)<STMTTRN>`)
	stmtTrnClose = regexp.MustCompile(`(?i)</STMTTRN>`)
	ledgerBal    = regexp.MustCompile(`(?is)<LEDGERBAL>(.*?)(?:</LEDGERBAL>|<AVAILBAL>|$)`)
	ofxTags      = map[string]*regexp.Regexp{}
	ofxEntities  = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
)

func init() {
	for _, tag := range []string{"DTPOSTED", "TRNAMT", "NAME", "MEMO", "CHECKNUM", "FITID", "REFNUM", "BALAMT"} {
		ofxTags[tag] = regexp.MustCompile(`(?i)<` + tag + `>\s*([^<\r\n]*)`)
	}
}

// Format returns the parser name.
func (p *OFXParser) Format() string {
	if p.format == "" {
		return "ofx"
	}
	return p.format
}

// Parse extracts every STMTTRN block plus the optional ledger closing balance.
func (p *OFXParser) Parse(raw []byte) (*model.ParsedStatement, error) {
	text := string(raw)
	format := p.Format()

	parts := stmtTrnOpen.Split(text, -1)
	if len(parts) < 2 {
		return nil, &model.ParseError{Format: format, Reason: "no <STMTTRN> blocks"}
	}

	stmt := &model.ParsedStatement{Format: format}
	for _, block := range parts[1:] {
		if loc := stmtTrnClose.FindStringIndex(block); loc != nil {
			block = block[:loc[0]]
		}
		stmt.TotalRows++
		txn, ok := parseOFXBlock(block)
		if !ok {
			stmt.SkippedRows++
			continue
		}
		stmt.Transactions = append(stmt.Transactions, txn)
	}

	if len(stmt.Transactions) == 0 {
		return nil, &model.ParseError{Format: format, Reason: fmt.Sprintf("no transactions parsed from %d blocks", stmt.TotalRows)}
	}

	if m := ledgerBal.FindStringSubmatch(text); m != nil {
		if bal, ok := parseOFXAmount(ofxTag(m[1], "BALAMT")); ok {
			stmt.ClosingBalance = &bal
		}
	}

	periodOf(stmt)
	return stmt, nil
}

func parseOFXBlock(block string) (model.StatementTransaction, bool) {
	date, ok := parseOFXDate(ofxTag(block, "DTPOSTED"))
	if !ok {
		return model.StatementTransaction{}, false
	}
	amount, ok := parseOFXAmount(ofxTag(block, "TRNAMT"))
	if !ok {
		return model.StatementTransaction{}, false
	}

	desc := ofxTag(block, "NAME")
	if desc == "" {
		desc = ofxTag(block, "MEMO")
	}
	ref := ofxTag(block, "REFNUM")
	if ref == "" {
		ref = ofxTag(block, "FITID")
	}

	return model.StatementTransaction{
		Date:        date,
		Description: desc,
		Amount:      amount,
		Type:        model.TypeOf(amount),
		CheckNumber: ofxTag(block, "CHECKNUM"),
		Reference:   ref,
	}, true
}

func ofxTag(block, tag string) string {
	m := ofxTags[tag].FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return ofxEntities.Replace(strings.TrimSpace(m[1]))
}

// parseOFXDate reads the YYYYMMDD prefix and ignores any time and zone suffix.
func parseOFXDate(s string) (time.Time, bool) {
	if len(s) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", s[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// parseOFXAmount reads TRNAMT and BALAMT values. OFX permits a comma decimal separator, so a
// single comma followed by one or two digits, with no period, is the decimal point.
func parseOFXAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i >= 0 && strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		if frac := len(s) - i - 1; frac == 1 || frac == 2 {
			s = s[:i] + "." + s[i+1:]
		}
	}
	return parseAmount(s)
}
