package taxtable

import (
	"fmt"
	"strconv"
	"strings"
)

// TaxYearFor maps a payroll month to its March to February tax year.
func TaxYearFor(month, year int) string {
	if month >= 3 {
		return fmt.Sprintf("%d/%d", year, year+1)
	}
	return fmt.Sprintf("%d/%d", year-1, year)
}

// NormalizeTaxYear accepts "2024/2025" or the URL and filename form
// "2024-2025" and returns the canonical slash form.
func NormalizeTaxYear(raw string) (string, error) {
	start, err := ParseTaxYear(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d/%d", start, start+1), nil
}

// ParseTaxYear returns the calendar year in which the tax year starts.
func ParseTaxYear(raw string) (int, error) {
	value := strings.TrimSpace(raw)
	sep := "/"
	if !strings.Contains(value, sep) {
		sep = "-"
	}
	parts := strings.Split(value, sep)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTaxYear, raw)
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTaxYear, raw)
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil || end != start+1 || start < 1900 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTaxYear, raw)
	}
	return start, nil
}

func FileSlug(taxYear string) string {
	return strings.ReplaceAll(taxYear, "/", "-")
}

// Months lists the twelve payroll months of a tax year, March first.
func Months(taxYear string) ([]Period, error) {
	start, err := ParseTaxYear(taxYear)
	if err != nil {
		return nil, err
	}
	out := make([]Period, 0, 12)
	for i := 0; i < 12; i++ {
		month := 3 + i
		year := start
		if month > 12 {
			month -= 12
			year++
		}
		out = append(out, Period{Month: month, Year: year})
	}
	return out, nil
}
