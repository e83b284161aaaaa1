package taxtable

import (
	"time"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	TierPrimary   Tier = "PRIMARY"
	TierSecondary Tier = "SECONDARY"
	TierTertiary  Tier = "TERTIARY"
)

var one = decimal.NewFromInt(1)

// Bracket is one progressive band. BaseTax is the tax owed on all income up
// to the previous band's ceiling, so income in this band is taxed at Rate
// above MinIncome-1.
type Bracket struct {
	TaxYear   string           `json:"taxYear"`
	MinIncome decimal.Decimal  `json:"minIncome"`
	MaxIncome *decimal.Decimal `json:"maxIncome,omitempty"`
	Rate      decimal.Decimal  `json:"rate"`
	BaseTax   decimal.Decimal  `json:"baseTax"`
}

func (b Bracket) Contains(income decimal.Decimal) bool {
	if !income.GreaterThan(b.MinIncome.Sub(one)) {
		return false
	}
	return b.MaxIncome == nil || income.LessThanOrEqual(*b.MaxIncome)
}

func (b Bracket) TaxOn(income decimal.Decimal) decimal.Decimal {
	return b.BaseTax.Add(b.Rate.Mul(income.Sub(b.MinIncome.Sub(one))))
}

type Rebate struct {
	Tier         Tier            `json:"tier"`
	Amount       decimal.Decimal `json:"amount"`
	AgeThreshold *int            `json:"ageThreshold,omitempty"`
}

func (r Rebate) AppliesAt(age int) bool {
	return r.AgeThreshold == nil || age >= *r.AgeThreshold
}

// MedicalCredit holds monthly credit amounts.
type MedicalCredit struct {
	TaxYear         string          `json:"taxYear"`
	MainMember      decimal.Decimal `json:"mainMember"`
	FirstDependent  decimal.Decimal `json:"firstDependent"`
	OtherDependents decimal.Decimal `json:"otherDependents"`
}

type Limits struct {
	TaxYear            string          `json:"taxYear"`
	UIFMonthlyCeiling  decimal.Decimal `json:"uifMonthlyCeiling"`
	UIFRate            decimal.Decimal `json:"uifRate"`
	SDLRate            decimal.Decimal `json:"sdlRate"`
	SDLAnnualThreshold decimal.Decimal `json:"sdlAnnualThreshold"`
}

// Table is the complete reference data for one tax year.
type Table struct {
	TaxYear       string          `json:"taxYear"`
	Brackets      []Bracket       `json:"brackets"`
	Rebates       map[Tier]Rebate `json:"rebates"`
	MedicalCredit MedicalCredit   `json:"medicalCredit"`
	Limits        Limits          `json:"limits"`
}

type TaxYearSummary struct {
	TaxYear      string `json:"taxYear"`
	BracketCount int    `json:"bracketCount"`
	InUse        bool   `json:"inUse"`
}

// Period is one payroll month.
type Period struct {
	Month int `json:"month"`
	Year  int `json:"year"`
}

func (p Period) Valid() bool {
	return p.Month >= 1 && p.Month <= 12 && p.Year >= 1900 && p.Year <= 9999
}

// End returns the last calendar day of the period.
func (p Period) End() time.Time {
	return time.Date(p.Year, time.Month(p.Month)+1, 0, 0, 0, 0, 0, time.UTC)
}

func (p Period) TaxYear() string {
	return TaxYearFor(p.Month, p.Year)
}

func (p Period) String() string {
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Key orders periods chronologically.
func (p Period) Key() int {
	return p.Year*100 + p.Month
}
