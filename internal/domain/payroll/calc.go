package payroll

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

var twelve = decimal.NewFromInt(12)

// Calculate computes one employee's PAYE, UIF and SDL for a payroll month.
// It is pure: the same table and input always give the same result. Only
// monthly PAYE, both UIF contributions and SDL are rounded, each to the cent.
func Calculate(table taxtable.Table, in CalculationInput) (CalculationResult, error) {
	if !in.Period.Valid() {
		return CalculationResult{}, fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, in.Period.Month, in.Period.Year)
	}
	taxYear := in.Period.TaxYear()
	if table.TaxYear != taxYear {
		return CalculationResult{}, &taxtable.TaxTableIntegrityError{
			TaxYear: table.TaxYear,
			Reason:  fmt.Sprintf("table does not cover period %s in tax year %s", in.Period, taxYear),
		}
	}

	emp := in.Employee
	gross := in.Gross
	res := CalculationResult{
		EmployeeID:   emp.ID,
		EmployeeName: emp.FullName(),
		TaxNumber:    emp.TaxNumber,
		Period:       in.Period,
		TaxYear:      taxYear,
		Age:          AgeAt(emp.DateOfBirth, in.Period.End()),
		Gross:        gross,
		Rebates:      []AppliedRebate{},
		RebateTier:   taxtable.TierPrimary,
		UIFRate:      table.Limits.UIFRate,
		SDLLiable:    in.SDLLiable,
		SDLRate:      table.Limits.SDLRate,
	}

	res.AnnualizedIncome = gross.Mul(twelve)
	res.TaxableIncome = res.AnnualizedIncome
	if res.TaxableIncome.IsPositive() {
		bracket, err := table.BracketFor(res.TaxableIncome)
		if err != nil {
			return CalculationResult{}, fmt.Errorf("employee %s: %w", emp.ID, err)
		}
		res.Bracket = &AppliedBracket{
			MinIncome: bracket.MinIncome,
			MaxIncome: bracket.MaxIncome,
			Rate:      bracket.Rate,
			BaseTax:   bracket.BaseTax,
		}
		res.GrossAnnualTax = bracket.TaxOn(res.TaxableIncome)
	}

	applied, totalRebates := table.RebatesFor(res.Age)
	for _, r := range applied {
		res.Rebates = append(res.Rebates, AppliedRebate{Tier: r.Tier, Amount: r.Amount})
		res.RebateTier = r.Tier
	}
	res.TotalRebates = totalRebates
	res.TaxAfterRebates = nonNegative(res.GrossAnnualTax.Sub(totalRebates))

	res.MedicalDependents = max(emp.MedicalAidDependents, 0)
	res.MedicalCredit = AnnualMedicalCredit(table.MedicalCredit, res.MedicalDependents)
	res.FinalAnnualTax = nonNegative(res.TaxAfterRebates.Sub(res.MedicalCredit))
	res.MonthlyPAYE = res.FinalAnnualTax.Div(twelve).Round(2)

	if gross.IsPositive() {
		res.UIFBase = decimal.Min(gross, table.Limits.UIFMonthlyCeiling)
		res.UIFEmployee = res.UIFBase.Mul(table.Limits.UIFRate).Round(2)
		res.UIFEmployer = res.UIFBase.Mul(table.Limits.UIFRate).Round(2)
		if in.SDLLiable {
			res.SDL = gross.Mul(table.Limits.SDLRate).Round(2)
		}
	}

	res.NetPay = gross.Sub(res.MonthlyPAYE).Sub(res.UIFEmployee)
	return res, nil
}

// AnnualMedicalCredit returns twelve months of the scheme credit for the
// given number of dependents, or zero when there is no scheme membership.
func AnnualMedicalCredit(mc taxtable.MedicalCredit, dependents int) decimal.Decimal {
	if dependents <= 0 {
		return decimal.Zero
	}
	monthly := mc.MainMember.Add(mc.FirstDependent)
	if dependents > 1 {
		monthly = monthly.Add(mc.OtherDependents.Mul(decimal.NewFromInt(int64(dependents - 1))))
	}
	return monthly.Mul(twelve)
}

// SDLLiable reports whether a practice's annualised payroll exceeds the
// SDL exemption threshold.
func SDLLiable(limits taxtable.Limits, employees []Employee) bool {
	annual := decimal.Zero
	for _, e := range employees {
		annual = annual.Add(e.MonthlyGross)
	}
	return annual.Mul(twelve).GreaterThan(limits.SDLAnnualThreshold)
}

// AgeAt returns completed years of age on the given date.
func AgeAt(dob, at time.Time) int {
	if dob.IsZero() {
		return 0
	}
	years := at.Year() - dob.Year()
	if at.Month() < dob.Month() || (at.Month() == dob.Month() && at.Day() < dob.Day()) {
		years--
	}
	return years
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
