package payroll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuditTx is the handle available inside a commit transaction. Audit rows
// are insert-only.
type AuditTx interface {
	InsertAuditLog(ctx context.Context, log AuditLog) error
}

type AuditWriter struct {
	newID func() string
}

func NewAuditWriter() *AuditWriter {
	return &AuditWriter{newID: uuid.NewString}
}

// Write persists one row per employee line. A duplicate employee aborts the
// write before anything is inserted.
func (w *AuditWriter) Write(ctx context.Context, tx AuditTx, run Run, lines []Line, committedAt time.Time) ([]AuditLog, error) {
	if tx == nil {
		return nil, errors.New("audit logs can only be written inside a commit transaction")
	}
	seen := make(map[string]bool, len(lines))
	logs := make([]AuditLog, 0, len(lines))
	for _, line := range lines {
		employeeID := line.Result.EmployeeID
		if seen[employeeID] {
			return nil, fmt.Errorf("%w: employee %s in run %s", ErrDuplicateAuditLog, employeeID, run.ID)
		}
		seen[employeeID] = true
		logs = append(logs, AuditLog{
			ID:           w.newID(),
			RunID:        run.ID,
			PracticeID:   run.PracticeID,
			EmployeeID:   employeeID,
			Result:       line.Result,
			CalculatedAt: line.CalculatedAt,
			CommittedAt:  committedAt,
		})
	}
	for _, log := range logs {
		if err := tx.InsertAuditLog(ctx, log); err != nil {
			return nil, fmt.Errorf("write audit log for employee %s: %w", log.EmployeeID, err)
		}
	}
	return logs, nil
}

// Verify recomputes the withholding chain from the figures stored on the row
// itself, without consulting any tax table.
func Verify(log AuditLog) VerifyResult {
	r := log.Result
	out := VerifyResult{
		AuditLogID: log.ID,
		RunID:      log.RunID,
		PracticeID: log.PracticeID,
		EmployeeID: log.EmployeeID,
		StoredPAYE: r.MonthlyPAYE,
	}
	check := func(name string, stored, computed decimal.Decimal) {
		if !stored.Equal(computed) {
			out.Problems = append(out.Problems, fmt.Sprintf("%s: stored %s, recomputed %s", name, stored, computed))
		}
	}

	check("annualizedIncome", r.AnnualizedIncome, r.Gross.Mul(twelve))
	grossTax := decimal.Zero
	if r.Bracket != nil {
		floor := r.Bracket.MinIncome.Sub(decimal.NewFromInt(1))
		if !r.TaxableIncome.GreaterThan(floor) || (r.Bracket.MaxIncome != nil && r.TaxableIncome.GreaterThan(*r.Bracket.MaxIncome)) {
			out.Problems = append(out.Problems, "taxableIncome lies outside the recorded bracket")
		}
		grossTax = r.Bracket.BaseTax.Add(r.Bracket.Rate.Mul(r.TaxableIncome.Sub(floor)))
	} else if r.TaxableIncome.IsPositive() {
		out.Problems = append(out.Problems, "positive taxable income without a recorded bracket")
	}
	check("grossAnnualTax", r.GrossAnnualTax, grossTax)

	rebates := decimal.Zero
	for _, rb := range r.Rebates {
		rebates = rebates.Add(rb.Amount)
	}
	check("totalRebates", r.TotalRebates, rebates)
	afterRebates := nonNegative(grossTax.Sub(rebates))
	check("taxAfterRebates", r.TaxAfterRebates, afterRebates)
	final := nonNegative(afterRebates.Sub(r.MedicalCredit))
	check("finalAnnualTax", r.FinalAnnualTax, final)
	out.ComputedPAYE = final.Div(twelve).Round(2)
	check("monthlyPaye", r.MonthlyPAYE, out.ComputedPAYE)

	check("uifEmployee", r.UIFEmployee, r.UIFBase.Mul(r.UIFRate).Round(2))
	check("uifEmployer", r.UIFEmployer, r.UIFBase.Mul(r.UIFRate).Round(2))
	expectedSDL := decimal.Zero
	if r.SDLLiable && r.Gross.IsPositive() {
		expectedSDL = r.Gross.Mul(r.SDLRate).Round(2)
	}
	check("sdl", r.SDL, expectedSDL)
	check("netPay", r.NetPay, r.Gross.Sub(r.MonthlyPAYE).Sub(r.UIFEmployee))

	out.Matches = len(out.Problems) == 0
	return out
}
