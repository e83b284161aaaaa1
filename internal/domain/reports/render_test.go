package reports

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclarationCSVQuotesFormulaText(t *testing.T) {
	decl := Declaration{
		Period: Period{Month: 7, Year: 2024},
		Rows: []EMP201Row{
			{EmployeeID: "emp-1", EmployeeName: "=HYPERLINK(\"http://x\")", TaxNumber: "+27123", Gross: Amount(decimal.RequireFromString("100"))},
			{EmployeeID: "@emp-2", EmployeeName: "-Sipho", TaxNumber: "0123456782", Gross: Amount(decimal.RequireFromString("200"))},
		},
	}
	out, err := DeclarationCSV(decl)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, `emp-1,"'=HYPERLINK(""http://x"")",'+27123,100.00,0.00,0.00,0.00,0.00`, lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "'@emp-2,'-Sipho,0123456782,"), lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "TOTAL,,,300.00,"), lines[3])

	assert.Equal(t, "=HYPERLINK(\"http://x\")", decl.Rows[0].EmployeeName, "input rows are left untouched")
}

func TestSpreadsheetSafe(t *testing.T) {
	cases := map[string]string{
		"":             "",
		"Thandi Nkosi": "Thandi Nkosi",
		"=1+1":         "'=1+1",
		"\tcmd":        "'\tcmd",
		"O'Brien":      "O'Brien",
	}
	for in, want := range cases {
		if got := spreadsheetSafe(in); got != want {
			t.Fatalf("spreadsheetSafe(%q) = %q, want %q", in, got, want)
		}
	}
}
