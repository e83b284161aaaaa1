package taxtable

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Validate checks that the brackets partition [1, inf) in ascending order
// with consistent cumulative base tax, and that the fixed amounts a
// calculation needs are present.
func (t Table) Validate() error {
	fail := func(format string, args ...any) error {
		return &TaxTableIntegrityError{TaxYear: t.TaxYear, Reason: fmt.Sprintf(format, args...)}
	}
	if _, err := ParseTaxYear(t.TaxYear); err != nil {
		return fail("invalid tax year %q", t.TaxYear)
	}
	if len(t.Brackets) == 0 {
		return fail("no brackets")
	}
	if !t.Brackets[0].MinIncome.Equal(one) {
		return fail("first bracket must start at 1, starts at %s", t.Brackets[0].MinIncome)
	}
	for i, b := range t.Brackets {
		if b.Rate.IsNegative() || b.Rate.GreaterThanOrEqual(one) {
			return fail("bracket %d rate %s out of range", i+1, b.Rate)
		}
		last := i == len(t.Brackets)-1
		if b.MaxIncome == nil && !last {
			return fail("bracket %d is unbounded but is not the top band", i+1)
		}
		if b.MaxIncome != nil && last {
			return fail("top bracket must be unbounded")
		}
		if b.MaxIncome != nil && b.MaxIncome.LessThan(b.MinIncome) {
			return fail("bracket %d max %s below min %s", i+1, b.MaxIncome, b.MinIncome)
		}
		if i == 0 {
			if !b.BaseTax.IsZero() {
				return fail("first bracket base tax must be zero")
			}
			continue
		}
		prev := t.Brackets[i-1]
		if !b.MinIncome.Equal(prev.MaxIncome.Add(one)) {
			return fail("gap or overlap between bracket %d (max %s) and bracket %d (min %s)", i, prev.MaxIncome, i+1, b.MinIncome)
		}
		expected := prev.BaseTax.Add(prev.Rate.Mul(b.MinIncome.Sub(prev.MinIncome)))
		if !b.BaseTax.Equal(expected) {
			return fail("bracket %d base tax %s, expected %s", i+1, b.BaseTax, expected)
		}
	}
	primary, ok := t.Rebates[TierPrimary]
	if !ok {
		return fail("primary rebate missing")
	}
	if primary.AgeThreshold != nil {
		return fail("primary rebate must not carry an age threshold")
	}
	for tier, r := range t.Rebates {
		if r.Amount.IsNegative() {
			return fail("%s rebate is negative", tier)
		}
	}
	if t.MedicalCredit.MainMember.IsNegative() || t.MedicalCredit.FirstDependent.IsNegative() || t.MedicalCredit.OtherDependents.IsNegative() {
		return fail("medical credit amounts must not be negative")
	}
	if !t.Limits.UIFMonthlyCeiling.IsPositive() || !t.Limits.UIFRate.IsPositive() || !t.Limits.SDLRate.IsPositive() {
		return fail("statutory limits must be positive")
	}
	return nil
}

// BracketFor returns the single band containing income.
func (t Table) BracketFor(income decimal.Decimal) (Bracket, error) {
	for _, b := range t.Brackets {
		if b.Contains(income) {
			return b, nil
		}
	}
	return Bracket{}, &TaxTableIntegrityError{TaxYear: t.TaxYear, Income: income.String(), Reason: "no bracket matches income"}
}

// RebatesFor returns the rebates an employee of the given age qualifies for,
// ordered by threshold, and their sum.
func (t Table) RebatesFor(age int) ([]Rebate, decimal.Decimal) {
	var applied []Rebate
	total := decimal.Zero
	for _, r := range t.Rebates {
		if r.AppliesAt(age) {
			applied = append(applied, r)
			total = total.Add(r.Amount)
		}
	}
	sort.Slice(applied, func(i, j int) bool {
		return threshold(applied[i]) < threshold(applied[j])
	})
	return applied, total
}

func threshold(r Rebate) int {
	if r.AgeThreshold == nil {
		return 0
	}
	return *r.AgeThreshold
}

// Equal reports whether two tables carry the same figures.
func (t Table) Equal(o Table) bool {
	if t.TaxYear != o.TaxYear || len(t.Brackets) != len(o.Brackets) || len(t.Rebates) != len(o.Rebates) {
		return false
	}
	for i := range t.Brackets {
		a, b := t.Brackets[i], o.Brackets[i]
		if !a.MinIncome.Equal(b.MinIncome) || !a.Rate.Equal(b.Rate) || !a.BaseTax.Equal(b.BaseTax) {
			return false
		}
		if (a.MaxIncome == nil) != (b.MaxIncome == nil) {
			return false
		}
		if a.MaxIncome != nil && !a.MaxIncome.Equal(*b.MaxIncome) {
			return false
		}
	}
	for tier, a := range t.Rebates {
		b, ok := o.Rebates[tier]
		if !ok || !a.Amount.Equal(b.Amount) || threshold(a) != threshold(b) {
			return false
		}
	}
	mc, omc := t.MedicalCredit, o.MedicalCredit
	if !mc.MainMember.Equal(omc.MainMember) || !mc.FirstDependent.Equal(omc.FirstDependent) || !mc.OtherDependents.Equal(omc.OtherDependents) {
		return false
	}
	l, ol := t.Limits, o.Limits
	return l.UIFMonthlyCeiling.Equal(ol.UIFMonthlyCeiling) && l.UIFRate.Equal(ol.UIFRate) &&
		l.SDLRate.Equal(ol.SDLRate) && l.SDLAnnualThreshold.Equal(ol.SDLAnnualThreshold)
}
