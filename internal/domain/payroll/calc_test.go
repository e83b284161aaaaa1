package payroll

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

func table2025(t *testing.T) taxtable.Table {
	t.Helper()
	tables, err := taxtable.BuiltIn()
	if err != nil {
		t.Fatalf("built-in tables: %v", err)
	}
	for _, table := range tables {
		if table.TaxYear == "2024/2025" {
			return table
		}
	}
	t.Fatal("2024/2025 not built in")
	return taxtable.Table{}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func employeeAged(age int) Employee {
	return Employee{
		ID:           "emp-1",
		FirstName:    "Thandi",
		LastName:     "Nkosi",
		DateOfBirth:  time.Date(2024-age, time.March, 15, 0, 0, 0, 0, time.UTC),
		MonthlyGross: dec("30000"),
		BankAccount:  "62812345678",
		TaxNumber:    "0123456782",
		Active:       true,
	}
}

var july2024 = Period{Month: 7, Year: 2024}

func mustCalculate(t *testing.T, table taxtable.Table, in CalculationInput) CalculationResult {
	t.Helper()
	res, err := Calculate(table, in)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	return res
}

func assertAmount(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", name, want, got)
	}
}

func TestCalculateWorkedExampleAge40(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(40)
	res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: emp.MonthlyGross, Period: july2024, SDLLiable: true})

	assertAmount(t, "annualized", res.AnnualizedIncome, "360000")
	assertAmount(t, "gross annual tax", res.GrossAnnualTax, "74632")
	assertAmount(t, "rebates", res.TotalRebates, "17235")
	assertAmount(t, "after rebates", res.TaxAfterRebates, "57397")
	assertAmount(t, "medical credit", res.MedicalCredit, "0")
	assertAmount(t, "monthly paye", res.MonthlyPAYE, "4783.08")
	assertAmount(t, "uif employee", res.UIFEmployee, "177.12")
	assertAmount(t, "uif employer", res.UIFEmployer, "177.12")
	assertAmount(t, "sdl", res.SDL, "300")
	assertAmount(t, "net", res.NetPay, "25039.80")
	if res.Age != 40 || res.RebateTier != taxtable.TierPrimary {
		t.Fatalf("unexpected age %d tier %s", res.Age, res.RebateTier)
	}
	if res.Bracket == nil || !res.Bracket.MinIncome.Equal(dec("237101")) {
		t.Fatalf("unexpected bracket %+v", res.Bracket)
	}
}

func TestCalculateSecondaryRebateLowersPAYE(t *testing.T) {
	table := table2025(t)
	young := employeeAged(40)
	old := employeeAged(67)
	a := mustCalculate(t, table, CalculationInput{Employee: young, Gross: young.MonthlyGross, Period: july2024})
	b := mustCalculate(t, table, CalculationInput{Employee: old, Gross: old.MonthlyGross, Period: july2024})

	assertAmount(t, "age 67 paye", b.MonthlyPAYE, "3996.08")
	if !b.MonthlyPAYE.LessThan(a.MonthlyPAYE) {
		t.Fatalf("expected lower PAYE at 67: %s vs %s", b.MonthlyPAYE, a.MonthlyPAYE)
	}
	if len(b.Rebates) != 2 || b.RebateTier != taxtable.TierSecondary {
		t.Fatalf("unexpected rebates %+v", b.Rebates)
	}
	if !b.TotalRebates.Equal(a.TotalRebates.Add(dec("9444"))) {
		t.Fatalf("rebates not additive: %s", b.TotalRebates)
	}
}

func TestCalculateTertiaryRebate(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(80)
	res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: emp.MonthlyGross, Period: july2024})
	assertAmount(t, "rebates", res.TotalRebates, "29824")
	if res.RebateTier != taxtable.TierTertiary {
		t.Fatalf("unexpected tier %s", res.RebateTier)
	}
}

func TestCalculateAgeAtPeriodEnd(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(40)
	emp.DateOfBirth = time.Date(1959, time.July, 31, 0, 0, 0, 0, time.UTC)
	res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: emp.MonthlyGross, Period: july2024})
	if res.Age != 65 || res.RebateTier != taxtable.TierSecondary {
		t.Fatalf("expected 65 on the last day of July, got %d (%s)", res.Age, res.RebateTier)
	}
}

func TestCalculateMedicalCredit(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(40)
	emp.MedicalAidDependents = 3
	res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: emp.MonthlyGross, Period: july2024})
	assertAmount(t, "medical credit", res.MedicalCredit, "14640")
	assertAmount(t, "monthly paye", res.MonthlyPAYE, "3563.08")
}

func TestAnnualMedicalCredit(t *testing.T) {
	mc := table2025(t).MedicalCredit
	cases := map[int]string{0: "0", -1: "0", 1: "8736", 2: "11688"}
	for deps, want := range cases {
		assertAmount(t, "credit", AnnualMedicalCredit(mc, deps), want)
	}
}

func TestCalculateTaxFloorsAtZero(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(30)
	res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: dec("1000"), Period: july2024})
	assertAmount(t, "gross annual tax", res.GrossAnnualTax, "2160")
	assertAmount(t, "after rebates", res.TaxAfterRebates, "0")
	assertAmount(t, "paye", res.MonthlyPAYE, "0")
	assertAmount(t, "uif", res.UIFEmployee, "10")
	assertAmount(t, "net", res.NetPay, "990")
}

func TestCalculateZeroGross(t *testing.T) {
	table := table2025(t)
	res := mustCalculate(t, table, CalculationInput{Employee: employeeAged(30), Gross: decimal.Zero, Period: july2024, SDLLiable: true})
	if res.Bracket != nil {
		t.Fatalf("expected no bracket for zero income, got %+v", res.Bracket)
	}
	for name, got := range map[string]decimal.Decimal{
		"paye": res.MonthlyPAYE, "uif": res.UIFEmployee, "sdl": res.SDL, "net": res.NetPay,
	} {
		assertAmount(t, name, got, "0")
	}
}

func TestCalculateUIFCapAndSDLGate(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(40)
	low := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: dec("10000"), Period: july2024})
	assertAmount(t, "uif below cap", low.UIFEmployee, "100")
	assertAmount(t, "sdl not liable", low.SDL, "0")

	high := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: dec("90000"), Period: july2024, SDLLiable: true})
	assertAmount(t, "uif capped", high.UIFEmployee, "177.12")
	assertAmount(t, "sdl", high.SDL, "900")
}

func TestCalculatePAYEMonotonicInGross(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(40)
	prev := decimal.NewFromInt(-1)
	for gross := int64(0); gross <= 200000; gross += 2500 {
		res := mustCalculate(t, table, CalculationInput{Employee: emp, Gross: decimal.NewFromInt(gross), Period: july2024})
		if res.MonthlyPAYE.LessThan(prev) {
			t.Fatalf("PAYE decreased at gross %d: %s < %s", gross, res.MonthlyPAYE, prev)
		}
		prev = res.MonthlyPAYE
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	table := table2025(t)
	emp := employeeAged(52)
	emp.MedicalAidDependents = 2
	in := CalculationInput{Employee: emp, Gross: dec("41234.56"), Period: july2024, SDLLiable: true}
	a := mustCalculate(t, table, in)
	b := mustCalculate(t, table, in)
	if !a.MonthlyPAYE.Equal(b.MonthlyPAYE) || !a.NetPay.Equal(b.NetPay) || !a.SDL.Equal(b.SDL) {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
}

func TestCalculateRejectsMismatchedTaxYear(t *testing.T) {
	table := table2025(t)
	_, err := Calculate(table, CalculationInput{Employee: employeeAged(40), Gross: dec("30000"), Period: Period{Month: 2, Year: 2024}})
	if !errors.Is(err, taxtable.ErrTableIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestCalculateRejectsInvalidPeriod(t *testing.T) {
	_, err := Calculate(table2025(t), CalculationInput{Employee: employeeAged(40), Gross: dec("30000"), Period: Period{Month: 13, Year: 2024}})
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
}

func TestCalculateBracketGapIsIntegrityError(t *testing.T) {
	table := table2025(t)
	table.Brackets = table.Brackets[1:]
	_, err := Calculate(table, CalculationInput{Employee: employeeAged(40), Gross: dec("1000"), Period: july2024})
	var integrity *taxtable.TaxTableIntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected TaxTableIntegrityError, got %v", err)
	}
}

func TestSDLLiable(t *testing.T) {
	limits := table2025(t).Limits
	emps := []Employee{{MonthlyGross: dec("20000")}, {MonthlyGross: dec("21666.66")}}
	if SDLLiable(limits, emps) {
		t.Fatal("expected payroll under threshold to be exempt")
	}
	emps = append(emps, Employee{MonthlyGross: dec("1")})
	if !SDLLiable(limits, emps) {
		t.Fatal("expected payroll over threshold to be liable")
	}
	if !SDLLiable(limits, []Employee{{MonthlyGross: dec("41666.666666666666666667")}}) {
		t.Fatal("expected payroll fractionally over threshold to be liable")
	}
}

func TestAgeAt(t *testing.T) {
	dob := time.Date(1980, time.August, 1, 0, 0, 0, 0, time.UTC)
	if got := AgeAt(dob, time.Date(2024, time.July, 31, 0, 0, 0, 0, time.UTC)); got != 43 {
		t.Fatalf("expected 43, got %d", got)
	}
	if got := AgeAt(dob, time.Date(2024, time.August, 1, 0, 0, 0, 0, time.UTC)); got != 44 {
		t.Fatalf("expected 44, got %d", got)
	}
	if got := AgeAt(time.Time{}, time.Now()); got != 0 {
		t.Fatalf("expected 0 for unknown birth date, got %d", got)
	}
}
