package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/trustrecon/internal/model"
)

const sampleOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102

<OFX>
<BANKMSGSRSV1><STMTTRNRS><STMTRS>
<CURDEF>USD
<BANKTRANLIST>
<DTSTART>20240101
<DTEND>20240131
<STMTTRN>
<TRNTYPE>CHECK
<DTPOSTED>20240105120000[-5:EST]
<TRNAMT>-500.00
<FITID>FIT-1
<CHECKNUM>1001
<NAME>Check 1001
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240106
<TRNAMT>1200.00
<FITID>FIT-2
<REFNUM>DEP-77
<MEMO>Deposit
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>700.00
<DTASOF>20240131
</LEDGERBAL>
<AVAILBAL>
<BALAMT>650.00
<DTASOF>20240131
</AVAILBAL>
</STMTRS></STMTTRNRS></BANKMSGSRSV1>
</OFX>
`

func TestOFXParser_Parse(t *testing.T) {
	stmt, err := (&OFXParser{}).Parse([]byte(sampleOFX))
	require.NoError(t, err)

	assert.Equal(t, "ofx", stmt.Format)
	require.Len(t, stmt.Transactions, 2)
	assert.Equal(t, day(2024, 1, 5), stmt.PeriodStart)
	assert.Equal(t, day(2024, 1, 6), stmt.PeriodEnd)
	require.NotNil(t, stmt.ClosingBalance)
	assert.Equal(t, "700.00", stmt.ClosingBalance.StringFixed(2))
	assert.Nil(t, stmt.OpeningBalance)

	check := stmt.Transactions[0]
	assert.Equal(t, day(2024, 1, 5), check.Date)
	assert.Equal(t, "Check 1001", check.Description)
	assert.Equal(t, "-500.00", check.Amount.StringFixed(2))
	assert.Equal(t, model.TxnDebit, check.Type)
	assert.Equal(t, "1001", check.CheckNumber)
	assert.Equal(t, "FIT-1", check.Reference)

	dep := stmt.Transactions[1]
	assert.Equal(t, "Deposit", dep.Description, "falls back to MEMO")
	assert.Equal(t, "DEP-77", dep.Reference, "REFNUM wins over FITID")
	assert.Equal(t, model.TxnCredit, dep.Type)
}

func TestOFXParser_XMLStyleAndEntities(t *testing.T) {
	ofx := `<OFX><STMTTRN><DTPOSTED>20240210</DTPOSTED><TRNAMT>-42.10</TRNAMT>` +
		`<NAME>Smith &amp; Jones</NAME><FITID>X1</FITID></STMTTRN></OFX>`
	stmt, err := (&OFXParser{}).Parse([]byte(ofx))
	require.NoError(t, err)
	require.Len(t, stmt.Transactions, 1)
	assert.Equal(t, "Smith & Jones", stmt.Transactions[0].Description)
	assert.Equal(t, day(2024, 2, 10), stmt.Transactions[0].Date)
	assert.Nil(t, stmt.ClosingBalance)
}

func TestOFXParser_SkipsBadBlocks(t *testing.T) {
	ofx := "<STMTTRN><DTPOSTED>2024<TRNAMT>1.00</STMTTRN>" +
		"<STMTTRN><DTPOSTED>20240102<TRNAMT>abc</STMTTRN>" +
		"<STMTTRN><DTPOSTED>20240103<TRNAMT>2.00</STMTTRN>"
	stmt, err := (&OFXParser{}).Parse([]byte(ofx))
	require.NoError(t, err)
	assert.Len(t, stmt.Transactions, 1)
	assert.Equal(t, 3, stmt.TotalRows)
	assert.Equal(t, 2, stmt.SkippedRows)
}

func TestOFXParser_Rejections(t *testing.T) {
	for name, in := range map[string]string{
		"no blocks":      "<OFX><BANKTRANLIST></BANKTRANLIST></OFX>",
		"all bad":        "<STMTTRN><TRNAMT>1.00</STMTTRN>",
		"empty":          "",
		"not ofx at all": "Date,Amount\n2024-01-01,1\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := (&OFXParser{format: "qfx"}).Parse([]byte(in))
			var pe *model.ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "qfx", pe.Format)
		})
	}
}

func TestCSVAndOFXProduceSameTransactions(t *testing.T) {
	csv := "Date,Description,Amount,Check Number,Reference\n" +
		"2024-01-05,Check 1001,-500.00,1001,FIT-1\n" +
		"2024-01-06,Deposit,1200.00,,DEP-77\n"

	fromCSV, err := Parse([]byte(csv), "csv")
	require.NoError(t, err)
	fromOFX, err := Parse([]byte(sampleOFX), "ofx")
	require.NoError(t, err)

	assert.Equal(t, fromCSV.Transactions, fromOFX.Transactions)
	assert.Equal(t, fromCSV.PeriodStart, fromOFX.PeriodStart)
	assert.Equal(t, fromCSV.PeriodEnd, fromOFX.PeriodEnd)
}

func TestOFXParser_CommaDecimalSeparator(t *testing.T) {
	raw := `<OFX><BANKTRANLIST>
<STMTTRN><DTPOSTED>20240105<TRNAMT>-500,00<FITID>A</STMTTRN>
<STMTTRN><DTPOSTED>20240106<TRNAMT>12,5<FITID>B</STMTTRN>
<STMTTRN><DTPOSTED>20240107<TRNAMT>1,234<FITID>C</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL><BALAMT>733,50<DTASOF>20240131</LEDGERBAL></OFX>`

	stmt, err := (&OFXParser{}).Parse([]byte(raw))
	require.NoError(t, err)
	require.Len(t, stmt.Transactions, 3)

	assert.Equal(t, "-500.00", stmt.Transactions[0].Amount.StringFixed(2))
	assert.Equal(t, "12.50", stmt.Transactions[1].Amount.StringFixed(2))
	assert.Equal(t, "1234.00", stmt.Transactions[2].Amount.StringFixed(2))
	require.NotNil(t, stmt.ClosingBalance)
	assert.Equal(t, "733.50", stmt.ClosingBalance.StringFixed(2))
}

func TestParseOFXAmount(t *testing.T) {
	cases := map[string]string{
		"-500,00":   "-500.00",
		"1,234.56":  "1234.56",
		"1,234,567": "1234567.00",
		"0,5":       "0.50",
	}
	for in, want := range cases {
		got, ok := parseOFXAmount(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got.StringFixed(2), in)
	}
}
