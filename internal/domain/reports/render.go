package reports

import (
	"bytes"
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

const totalLabel = "TOTAL"

const (
	ContentTypeCSV  = "text/csv"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypePDF  = "application/pdf"
)

func (d Declaration) Filename() string {
	return fmt.Sprintf("EMP201_%s.csv", d.Period)
}

func (r Reconciliation) Filename() string {
	slug := taxtable.FileSlug(r.TaxYear)
	if r.Scope == ScopeInterim {
		slug += "-interim"
	}
	return fmt.Sprintf("EMP501_%s.csv", slug)
}

func (c Certificate) Filename(ext string) string {
	return fmt.Sprintf("IRP5_%s_%s.%s", taxtable.FileSlug(c.TaxYear), c.EmployeeID, ext)
}

// DeclarationCSV writes one row per employee followed by a TOTAL row.
func DeclarationCSV(d Declaration) ([]byte, error) {
	rows := make([]EMP201Row, 0, len(d.Rows)+1)
	gross := decimal.Zero
	for _, r := range d.Rows {
		gross = gross.Add(r.Gross.Decimal())
		r.EmployeeID = spreadsheetSafe(r.EmployeeID)
		r.EmployeeName = spreadsheetSafe(r.EmployeeName)
		r.TaxNumber = spreadsheetSafe(r.TaxNumber)
		rows = append(rows, r)
	}
	rows = append(rows, EMP201Row{
		EmployeeID:  totalLabel,
		Gross:       Amount(gross),
		PAYE:        d.PAYE,
		UIFEmployee: d.UIFEmployee,
		UIFEmployer: d.UIFEmployer,
		SDL:         d.SDL,
	})
	return gocsv.MarshalBytes(&rows)
}

// spreadsheetSafe quotes free text that a spreadsheet would otherwise
// evaluate as a formula.
func spreadsheetSafe(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}

// ReconciliationCSV writes one row per month in scope followed by a TOTAL
// row whose status says whether the period balanced.
func ReconciliationCSV(r Reconciliation) ([]byte, error) {
	rows := make([]EMP501Row, 0, len(r.Months)+1)
	rows = append(rows, r.Months...)
	total := EMP501Row{Period: totalLabel, Status: "UNBALANCED"}
	if r.Balanced {
		total.Status = "BALANCED"
	}
	var declaredPAYE, declaredUIF, declaredSDL decimal.Decimal
	for _, m := range r.Months {
		total.EmployeeCount += m.EmployeeCount
		declaredPAYE = declaredPAYE.Add(m.DeclaredPAYE.Decimal())
		declaredUIF = declaredUIF.Add(m.DeclaredUIF.Decimal())
		declaredSDL = declaredSDL.Add(m.DeclaredSDL.Decimal())
	}
	total.AuditPAYE, total.AuditUIF, total.AuditSDL = r.PAYE, r.UIF, r.SDL
	total.DeclaredPAYE, total.DeclaredUIF, total.DeclaredSDL = Amount(declaredPAYE), Amount(declaredUIF), Amount(declaredSDL)
	rows = append(rows, total)
	return gocsv.MarshalBytes(&rows)
}

type certificateLine struct {
	code        string
	description string
	amount      Amount
}

func (c Certificate) lines() []certificateLine {
	return []certificateLine{
		{code: "3601", description: "Income (taxable)", amount: c.Gross},
		{code: "4102", description: "PAYE", amount: c.PAYE},
		{code: "4141", description: "UIF contributions", amount: c.UIF},
	}
}

func orNotSupplied(value string) string {
	if value == "" {
		return "not supplied"
	}
	return value
}

// CertificateText renders the IRP5 as fixed-width text.
func CertificateText(c Certificate) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "IRP5 EMPLOYEE TAX CERTIFICATE\n")
	fmt.Fprintf(&buf, "Certificate number: %s\n", c.Number)
	fmt.Fprintf(&buf, "Tax year:           %s\n", c.TaxYear)
	fmt.Fprintf(&buf, "Employer:           %s (%s)\n", orNotSupplied(c.EmployerName), c.PracticeID)
	fmt.Fprintf(&buf, "Employee:           %s (%s)\n", c.EmployeeName, c.EmployeeID)
	fmt.Fprintf(&buf, "Income tax number:  %s\n", orNotSupplied(c.TaxNumber))
	fmt.Fprintf(&buf, "Periods paid:       %d\n", c.PeriodsPaid)
	fmt.Fprintf(&buf, "\n%-6s%-24s%14s\n", "Code", "Description", "Amount")
	for _, line := range c.lines() {
		fmt.Fprintf(&buf, "%-6s%-24s%14s\n", line.code, line.description, line.amount)
	}
	return buf.Bytes()
}

func CertificatePDF(c Certificate) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(c.Filename("pdf"), false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "IRP5 Employee Tax Certificate")
	pdf.Ln(12)
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range []string{
		"Certificate number: " + c.Number,
		"Tax year: " + c.TaxYear,
		fmt.Sprintf("Employer: %s (%s)", orNotSupplied(c.EmployerName), c.PracticeID),
		fmt.Sprintf("Employee: %s (%s)", c.EmployeeName, c.EmployeeID),
		"Income tax number: " + orNotSupplied(c.TaxNumber),
		fmt.Sprintf("Periods paid: %d", c.PeriodsPaid),
	} {
		pdf.Cell(0, 7, line)
		pdf.Ln(7)
	}
	pdf.Ln(5)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(25, 8, "Code", "1", 0, "", false, 0, "")
	pdf.CellFormat(90, 8, "Description", "1", 0, "", false, 0, "")
	pdf.CellFormat(45, 8, "Amount (R)", "1", 1, "R", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	for _, line := range c.lines() {
		pdf.CellFormat(25, 8, line.code, "1", 0, "", false, 0, "")
		pdf.CellFormat(90, 8, line.description, "1", 0, "", false, 0, "")
		pdf.CellFormat(45, 8, line.amount.String(), "1", 1, "R", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
