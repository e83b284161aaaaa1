package payroll

import (
	"time"

	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

type Period = taxtable.Period

type Employee struct {
	ID                   string          `json:"id"`
	PracticeID           string          `json:"practiceId"`
	FirstName            string          `json:"firstName"`
	LastName             string          `json:"lastName"`
	DateOfBirth          time.Time       `json:"dateOfBirth"`
	MonthlyGross         decimal.Decimal `json:"monthlyGross"`
	MedicalAidDependents int             `json:"medicalAidDependents"`
	TaxNumber            string          `json:"taxNumber,omitempty"`
	BankAccount          string          `json:"-"`
	Active               bool            `json:"active"`
}

func (e Employee) FullName() string {
	switch {
	case e.FirstName == "":
		return e.LastName
	case e.LastName == "":
		return e.FirstName
	}
	return e.FirstName + " " + e.LastName
}

type CalculationInput struct {
	Employee  Employee
	Gross     decimal.Decimal
	Period    Period
	SDLLiable bool
}

type AppliedBracket struct {
	MinIncome decimal.Decimal  `json:"minIncome"`
	MaxIncome *decimal.Decimal `json:"maxIncome,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`
	BaseTax   decimal.Decimal  `json:"baseTax"`
}

type AppliedRebate struct {
	Tier   taxtable.Tier   `json:"tier"`
	Amount decimal.Decimal `json:"amount"`
}

// CalculationResult carries every figure used to arrive at the monthly
// withholding so a stored result can be checked without the tax tables.
type CalculationResult struct {
	EmployeeID        string          `json:"employeeId"`
	EmployeeName      string          `json:"employeeName"`
	TaxNumber         string          `json:"taxNumber,omitempty"`
	Period            Period          `json:"period"`
	TaxYear           string          `json:"taxYear"`
	Age               int             `json:"age"`
	Gross             decimal.Decimal `json:"grossRemuneration"`
	AnnualizedIncome  decimal.Decimal `json:"annualizedIncome"`
	TaxableIncome     decimal.Decimal `json:"taxableIncome"`
	Bracket           *AppliedBracket `json:"bracket,omitempty"`
	GrossAnnualTax    decimal.Decimal `json:"grossAnnualTax"`
	Rebates           []AppliedRebate `json:"rebates"`
	TotalRebates      decimal.Decimal `json:"totalRebates"`
	RebateTier        taxtable.Tier   `json:"rebateTier"`
	TaxAfterRebates   decimal.Decimal `json:"taxAfterRebates"`
	MedicalDependents int             `json:"medicalDependents"`
	MedicalCredit     decimal.Decimal `json:"annualMedicalCredit"`
	FinalAnnualTax    decimal.Decimal `json:"finalAnnualTax"`
	MonthlyPAYE       decimal.Decimal `json:"monthlyPaye"`
	UIFBase           decimal.Decimal `json:"uifBase"`
	UIFRate           decimal.Decimal `json:"uifRate"`
	UIFEmployee       decimal.Decimal `json:"uifEmployee"`
	UIFEmployer       decimal.Decimal `json:"uifEmployer"`
	SDLLiable         bool            `json:"sdlLiable"`
	SDLRate           decimal.Decimal `json:"sdlRate"`
	SDL               decimal.Decimal `json:"sdl"`
	NetPay            decimal.Decimal `json:"netPay"`
}

type Totals struct {
	EmployeeCount int             `json:"employeeCount"`
	Gross         decimal.Decimal `json:"gross"`
	PAYE          decimal.Decimal `json:"paye"`
	UIFEmployee   decimal.Decimal `json:"uifEmployee"`
	UIFEmployer   decimal.Decimal `json:"uifEmployer"`
	SDL           decimal.Decimal `json:"sdl"`
	Net           decimal.Decimal `json:"net"`
}

func (t Totals) Add(r CalculationResult) Totals {
	t.EmployeeCount++
	t.Gross = t.Gross.Add(r.Gross)
	t.PAYE = t.PAYE.Add(r.MonthlyPAYE)
	t.UIFEmployee = t.UIFEmployee.Add(r.UIFEmployee)
	t.UIFEmployer = t.UIFEmployer.Add(r.UIFEmployer)
	t.SDL = t.SDL.Add(r.SDL)
	t.Net = t.Net.Add(r.NetPay)
	return t
}

func (t Totals) Equal(o Totals) bool {
	return t.EmployeeCount == o.EmployeeCount && t.Gross.Equal(o.Gross) && t.PAYE.Equal(o.PAYE) &&
		t.UIFEmployee.Equal(o.UIFEmployee) && t.UIFEmployer.Equal(o.UIFEmployer) &&
		t.SDL.Equal(o.SDL) && t.Net.Equal(o.Net)
}

type Run struct {
	ID          string     `json:"id"`
	PracticeID  string     `json:"practiceId"`
	Month       int        `json:"month"`
	Year        int        `json:"year"`
	TaxYear     string     `json:"taxYear"`
	Status      string     `json:"status"`
	Totals      Totals     `json:"totals"`
	GeneratedAt time.Time  `json:"generatedAt"`
	ValidatedAt *time.Time `json:"validatedAt,omitempty"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`
}

func (r Run) Period() Period {
	return Period{Month: r.Month, Year: r.Year}
}

// Line is one employee's draft calculation within a run.
type Line struct {
	Position     int               `json:"position"`
	Result       CalculationResult `json:"result"`
	CalculatedAt time.Time         `json:"calculatedAt"`
}

type RunSummary struct {
	Run   Run    `json:"run"`
	Lines []Line `json:"lines"`
}

// AuditLog is the immutable per-employee record written at commit.
type AuditLog struct {
	ID           string            `json:"id"`
	RunID        string            `json:"runId"`
	PracticeID   string            `json:"practiceId"`
	EmployeeID   string            `json:"employeeId"`
	Result       CalculationResult `json:"result"`
	CalculatedAt time.Time         `json:"calculationTimestamp"`
	CommittedAt  time.Time         `json:"committedAt"`
}

type Finding struct {
	Severity     string `json:"severity"`
	Code         string `json:"code"`
	EmployeeID   string `json:"employeeId"`
	EmployeeName string `json:"employeeName"`
	Field        string `json:"field"`
	Message      string `json:"message"`
}

type ValidationReport struct {
	Errors   []Finding `json:"errors"`
	Warnings []Finding `json:"warnings"`
}

func (r ValidationReport) HasErrors() bool {
	return len(r.Errors) > 0
}

// EmployeeHistory summarises an employee's committed runs before a period.
type EmployeeHistory struct {
	Runs           int             `json:"runs"`
	AverageNet     decimal.Decimal `json:"averageNet"`
	LastRebateTier taxtable.Tier   `json:"lastRebateTier"`
	LastDependents int             `json:"lastDependents"`
}

type ValidationInput struct {
	Run       Run
	Lines     []Line
	Employees []Employee
	History   map[string]EmployeeHistory
}

type CommitResult struct {
	Run       Run        `json:"run"`
	AuditLogs []AuditLog `json:"auditLogs"`
}

type VerifyResult struct {
	AuditLogID   string          `json:"auditLogId"`
	RunID        string          `json:"runId"`
	PracticeID   string          `json:"practiceId"`
	EmployeeID   string          `json:"employeeId"`
	Matches      bool            `json:"matches"`
	StoredPAYE   decimal.Decimal `json:"storedPaye"`
	ComputedPAYE decimal.Decimal `json:"computedPaye"`
	Problems     []string        `json:"problems,omitempty"`
}
