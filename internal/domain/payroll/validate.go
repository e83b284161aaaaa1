package payroll

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var lowNetRatio = decimal.RequireFromString("0.5")

// Validate classifies a draft run's lines into blocking errors and advisory
// warnings. It has no side effects; calling it twice gives the same report.
func Validate(in ValidationInput) ValidationReport {
	report := ValidationReport{Errors: []Finding{}, Warnings: []Finding{}}
	add := func(severity, code string, r CalculationResult, field, message string) {
		f := Finding{
			Severity:     severity,
			Code:         code,
			EmployeeID:   r.EmployeeID,
			EmployeeName: r.EmployeeName,
			Field:        field,
			Message:      message,
		}
		if severity == SeverityError {
			report.Errors = append(report.Errors, f)
		} else {
			report.Warnings = append(report.Warnings, f)
		}
	}

	current := make(map[string]Employee, len(in.Employees))
	for _, e := range in.Employees {
		current[e.ID] = e
	}

	seen := make(map[string]bool, len(in.Lines))
	for _, line := range in.Lines {
		r := line.Result
		if seen[r.EmployeeID] {
			add(SeverityError, FindingDuplicateEmployee, r, "employeeId", "employee appears more than once in this run")
			continue
		}
		seen[r.EmployeeID] = true

		if !r.Gross.IsPositive() {
			add(SeverityError, FindingNonPositiveGross, r, "grossRemuneration", "gross remuneration must be greater than zero")
		}
		if r.NetPay.IsNegative() {
			add(SeverityError, FindingNegativeNet, r, "netPay", "computed net pay is negative")
		}

		emp, ok := current[r.EmployeeID]
		if !ok {
			add(SeverityError, FindingStaleLine, r, "employeeId", "employee is no longer active; regenerate the run")
		} else {
			if !emp.MonthlyGross.Equal(r.Gross) {
				add(SeverityError, FindingStaleLine, r, "monthlyGross", "gross remuneration changed after the draft was generated; regenerate the run")
			}
			if emp.MedicalAidDependents != r.MedicalDependents {
				add(SeverityError, FindingStaleLine, r, "medicalAidDependents", "medical aid dependents changed after the draft was generated; regenerate the run")
			}
			switch account := strings.TrimSpace(emp.BankAccount); {
			case account == "":
				add(SeverityError, FindingMissingBank, r, "bankAccount", "bank account is required for payment")
			case !ValidBankAccount(account):
				add(SeverityError, FindingInvalidBank, r, "bankAccount", "bank account must be 6 to 16 digits")
			}
			switch taxNumber := strings.TrimSpace(emp.TaxNumber); {
			case taxNumber == "":
				add(SeverityWarning, FindingMissingTaxNumber, r, "taxNumber", "tax number is missing")
			case !ValidTaxNumber(taxNumber):
				add(SeverityWarning, FindingInvalidTaxNumber, r, "taxNumber", "tax number is not a valid 10 digit income tax reference")
			}
		}

		history, ok := in.History[r.EmployeeID]
		if !ok || history.Runs == 0 {
			continue
		}
		if history.AverageNet.IsPositive() && r.NetPay.LessThan(history.AverageNet.Mul(lowNetRatio)) {
			add(SeverityWarning, FindingLowNet, r, "netPay", "net pay is less than half of this employee's historical average of "+history.AverageNet.StringFixed(2))
		}
		if history.LastRebateTier != "" && history.LastRebateTier != r.RebateTier {
			add(SeverityWarning, FindingRebateTierChanged, r, "dateOfBirth", "age rebate tier changed from "+string(history.LastRebateTier)+" to "+string(r.RebateTier))
		}
		if history.LastDependents != r.MedicalDependents {
			add(SeverityWarning, FindingDependentsChanged, r, "medicalAidDependents", "medical aid dependents changed since the last committed run")
		}
	}

	for _, e := range in.Employees {
		if e.Active && !seen[e.ID] {
			add(SeverityError, FindingStaleLine, CalculationResult{EmployeeID: e.ID, EmployeeName: e.FullName()}, "employeeId", "employee became active after the draft was generated; regenerate the run")
		}
	}

	sortFindings(report.Errors)
	sortFindings(report.Warnings)
	return report
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].EmployeeName != findings[j].EmployeeName {
			return findings[i].EmployeeName < findings[j].EmployeeName
		}
		if findings[i].EmployeeID != findings[j].EmployeeID {
			return findings[i].EmployeeID < findings[j].EmployeeID
		}
		if findings[i].Code != findings[j].Code {
			return findings[i].Code < findings[j].Code
		}
		return findings[i].Field < findings[j].Field
	})
}

func ValidBankAccount(raw string) bool {
	digits := stripSeparators(raw)
	return len(digits) >= 6 && len(digits) <= 16 && allDigits(digits)
}

// ValidTaxNumber checks a SARS income tax reference: ten digits, a leading
// 0, 1, 2, 3 or 9, and a modulus 10 check digit.
func ValidTaxNumber(raw string) bool {
	digits := stripSeparators(raw)
	if len(digits) != 10 || !allDigits(digits) || !strings.ContainsRune("01239", rune(digits[0])) {
		return false
	}
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if (len(digits)-1-i)%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return sum%10 == 0
}

func stripSeparators(raw string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}
