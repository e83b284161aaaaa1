package reports

import (
	"strconv"

	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

type Period = taxtable.Period

// Amount is a rand value rendered with exactly two decimals.
type Amount decimal.Decimal

func (a Amount) Decimal() decimal.Decimal {
	return decimal.Decimal(a)
}

func (a Amount) String() string {
	return decimal.Decimal(a).StringFixed(2)
}

func (a Amount) MarshalCSV() (string, error) {
	return a.String(), nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(a.String())), nil
}

// AuditRow is the reporting projection of one committed audit log.
type AuditRow struct {
	RunID        string
	PracticeID   string
	EmployeeID   string
	EmployeeName string
	TaxNumber    string
	Period       Period
	TaxYear      string
	Gross        decimal.Decimal
	PAYE         decimal.Decimal
	UIFEmployee  decimal.Decimal
	UIFEmployer  decimal.Decimal
	SDL          decimal.Decimal
}

type MonthTotals struct {
	Period        Period
	EmployeeCount int
	Gross         decimal.Decimal
	PAYE          decimal.Decimal
	UIFEmployee   decimal.Decimal
	UIFEmployer   decimal.Decimal
	SDL           decimal.Decimal
}

func (m MonthTotals) add(r AuditRow) MonthTotals {
	m.EmployeeCount++
	m.Gross = m.Gross.Add(r.Gross)
	m.PAYE = m.PAYE.Add(r.PAYE)
	m.UIFEmployee = m.UIFEmployee.Add(r.UIFEmployee)
	m.UIFEmployer = m.UIFEmployer.Add(r.UIFEmployer)
	m.SDL = m.SDL.Add(r.SDL)
	return m
}

func (m MonthTotals) UIF() decimal.Decimal {
	return m.UIFEmployee.Add(m.UIFEmployer)
}

func (m MonthTotals) Liability() decimal.Decimal {
	return m.PAYE.Add(m.UIF()).Add(m.SDL)
}

func (m MonthTotals) Equal(o MonthTotals) bool {
	return m.EmployeeCount == o.EmployeeCount && m.Gross.Equal(o.Gross) && m.PAYE.Equal(o.PAYE) &&
		m.UIFEmployee.Equal(o.UIFEmployee) && m.UIFEmployer.Equal(o.UIFEmployer) && m.SDL.Equal(o.SDL)
}

type EMP201Row struct {
	EmployeeID   string `csv:"employee_id" json:"employeeId"`
	EmployeeName string `csv:"employee_name" json:"employeeName"`
	TaxNumber    string `csv:"tax_number" json:"taxNumber"`
	Gross        Amount `csv:"gross_remuneration" json:"grossRemuneration"`
	PAYE         Amount `csv:"paye" json:"paye"`
	UIFEmployee  Amount `csv:"uif_employee" json:"uifEmployee"`
	UIFEmployer  Amount `csv:"uif_employer" json:"uifEmployer"`
	SDL          Amount `csv:"sdl" json:"sdl"`
}

// Declaration is the EMP201 monthly employer declaration.
type Declaration struct {
	PracticeID    string      `json:"practiceId"`
	Period        Period      `json:"period"`
	TaxYear       string      `json:"taxYear"`
	EmployeeCount int         `json:"employeeCount"`
	PAYE          Amount      `json:"paye"`
	UIFEmployee   Amount      `json:"uifEmployee"`
	UIFEmployer   Amount      `json:"uifEmployer"`
	UIF           Amount      `json:"uif"`
	SDL           Amount      `json:"sdl"`
	Liability     Amount      `json:"liability"`
	Rows          []EMP201Row `json:"rows"`
}

type Scope string

const (
	ScopeInterim Scope = "interim"
	ScopeAnnual  Scope = "annual"
)

const (
	MonthReconciled = "RECONCILED"
	MonthMismatch   = "MISMATCH"
	MonthMissing    = "MISSING"
)

type EMP501Row struct {
	Period        string `csv:"period" json:"period"`
	Status        string `csv:"status" json:"status"`
	EmployeeCount int    `csv:"employee_count" json:"employeeCount"`
	AuditPAYE     Amount `csv:"audit_paye" json:"auditPaye"`
	DeclaredPAYE  Amount `csv:"declared_paye" json:"declaredPaye"`
	AuditUIF      Amount `csv:"audit_uif" json:"auditUif"`
	DeclaredUIF   Amount `csv:"declared_uif" json:"declaredUif"`
	AuditSDL      Amount `csv:"audit_sdl" json:"auditSdl"`
	DeclaredSDL   Amount `csv:"declared_sdl" json:"declaredSdl"`
}

// Reconciliation is the EMP501 cross-check of audit rows against the
// monthly declarations built from committed run totals.
type Reconciliation struct {
	PracticeID string      `json:"practiceId"`
	TaxYear    string      `json:"taxYear"`
	Scope      Scope       `json:"scope"`
	Months     []EMP501Row `json:"months"`
	Missing    []string    `json:"missing"`
	Mismatches []string    `json:"mismatches"`
	PAYE       Amount      `json:"paye"`
	UIF        Amount      `json:"uif"`
	SDL        Amount      `json:"sdl"`
	Balanced   bool        `json:"balanced"`
}

// Certificate is the IRP5 annual employee tax certificate.
type Certificate struct {
	Number       string `json:"certificateNumber"`
	TaxYear      string `json:"taxYear"`
	EmployeeID   string `json:"employeeId"`
	EmployeeName string `json:"employeeName"`
	TaxNumber    string `json:"taxNumber"`
	PracticeID   string `json:"practiceId"`
	EmployerName string `json:"employerName"`
	PeriodsPaid  int    `json:"periodsPaid"`
	Gross        Amount `json:"grossRemuneration"`
	PAYE         Amount `json:"paye"`
	UIF          Amount `json:"uif"`
}
