package reports

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"sapayroll/internal/domain/taxtable"
)

var certificateNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:sapayroll:irp5"))

type Service struct {
	store StoreAPI
}

func NewService(store StoreAPI) *Service {
	return &Service{store: store}
}

// MonthlyDeclaration sums the committed audit rows of one practice month.
func (s *Service) MonthlyDeclaration(ctx context.Context, practiceID string, period Period) (Declaration, error) {
	if !period.Valid() {
		return Declaration{}, fmt.Errorf("%w: %d/%d", ErrInvalidPeriod, period.Month, period.Year)
	}
	rows, err := s.store.AuditRowsForPeriod(ctx, practiceID, period)
	if err != nil {
		return Declaration{}, err
	}
	if len(rows) == 0 {
		return Declaration{}, fmt.Errorf("%w: practice %s period %s", ErrNoCommittedData, practiceID, period)
	}

	out := Declaration{PracticeID: practiceID, Period: period, TaxYear: period.TaxYear(), Rows: make([]EMP201Row, 0, len(rows))}
	var totals MonthTotals
	for _, r := range rows {
		totals = totals.add(r)
		out.Rows = append(out.Rows, EMP201Row{
			EmployeeID:   r.EmployeeID,
			EmployeeName: r.EmployeeName,
			TaxNumber:    r.TaxNumber,
			Gross:        Amount(r.Gross),
			PAYE:         Amount(r.PAYE),
			UIFEmployee:  Amount(r.UIFEmployee),
			UIFEmployer:  Amount(r.UIFEmployer),
			SDL:          Amount(r.SDL),
		})
	}
	out.EmployeeCount = totals.EmployeeCount
	out.PAYE = Amount(totals.PAYE)
	out.UIFEmployee = Amount(totals.UIFEmployee)
	out.UIFEmployer = Amount(totals.UIFEmployer)
	out.UIF = Amount(totals.UIF())
	out.SDL = Amount(totals.SDL)
	out.Liability = Amount(totals.Liability())
	return out, nil
}

func ParseScope(raw string) (Scope, error) {
	switch Scope(raw) {
	case "", ScopeAnnual:
		return ScopeAnnual, nil
	case ScopeInterim:
		return ScopeInterim, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
}

// Reconciliation compares, month by month, the sum of audit rows with the
// frozen totals of the committed run. Differences are reported, never
// corrected.
func (s *Service) Reconciliation(ctx context.Context, practiceID, taxYear string, scope Scope) (Reconciliation, error) {
	taxYear, err := taxtable.NormalizeTaxYear(taxYear)
	if err != nil {
		return Reconciliation{}, err
	}
	months, err := taxtable.Months(taxYear)
	if err != nil {
		return Reconciliation{}, err
	}
	switch scope {
	case ScopeInterim:
		months = months[:6]
	case ScopeAnnual:
	default:
		return Reconciliation{}, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	audited, err := s.store.AuditTotalsByMonth(ctx, practiceID, taxYear)
	if err != nil {
		return Reconciliation{}, err
	}
	declared, err := s.store.CommittedRunTotals(ctx, practiceID, taxYear)
	if err != nil {
		return Reconciliation{}, err
	}
	auditBy := indexTotals(audited)
	declaredBy := indexTotals(declared)

	out := Reconciliation{
		PracticeID: practiceID,
		TaxYear:    taxYear,
		Scope:      scope,
		Months:     make([]EMP501Row, 0, len(months)),
		Missing:    []string{},
		Mismatches: []string{},
	}
	paye, uif, sdl := decimal.Zero, decimal.Zero, decimal.Zero
	for _, period := range months {
		a, hasAudit := auditBy[period.Key()]
		d, hasDeclared := declaredBy[period.Key()]
		row := EMP501Row{
			Period:        period.String(),
			EmployeeCount: a.EmployeeCount,
			AuditPAYE:     Amount(a.PAYE),
			DeclaredPAYE:  Amount(d.PAYE),
			AuditUIF:      Amount(a.UIF()),
			DeclaredUIF:   Amount(d.UIF()),
			AuditSDL:      Amount(a.SDL),
			DeclaredSDL:   Amount(d.SDL),
		}
		switch {
		case !hasAudit && !hasDeclared:
			row.Status = MonthMissing
			out.Missing = append(out.Missing, period.String())
		case hasAudit && hasDeclared && a.Equal(d):
			row.Status = MonthReconciled
		default:
			row.Status = MonthMismatch
			out.Mismatches = append(out.Mismatches, describeMismatch(period, a, d))
		}
		paye = paye.Add(a.PAYE)
		uif = uif.Add(a.UIF())
		sdl = sdl.Add(a.SDL)
		out.Months = append(out.Months, row)
	}
	out.PAYE, out.UIF, out.SDL = Amount(paye), Amount(uif), Amount(sdl)
	out.Balanced = len(out.Mismatches) == 0
	return out, nil
}

func indexTotals(totals []MonthTotals) map[int]MonthTotals {
	out := make(map[int]MonthTotals, len(totals))
	for _, t := range totals {
		out[t.Period.Key()] = t
	}
	return out
}

func describeMismatch(period Period, audit, declared MonthTotals) string {
	return fmt.Sprintf("%s: audit %d employees PAYE %s UIF %s SDL %s, declared %d employees PAYE %s UIF %s SDL %s",
		period, audit.EmployeeCount, audit.PAYE.StringFixed(2), audit.UIF().StringFixed(2), audit.SDL.StringFixed(2),
		declared.EmployeeCount, declared.PAYE.StringFixed(2), declared.UIF().StringFixed(2), declared.SDL.StringFixed(2))
}

// AnnualCertificate totals one employee's committed months in a tax year.
// The certificate number depends only on the employee and tax year.
func (s *Service) AnnualCertificate(ctx context.Context, employeeID, taxYear string) (Certificate, error) {
	taxYear, err := taxtable.NormalizeTaxYear(taxYear)
	if err != nil {
		return Certificate{}, err
	}
	rows, err := s.store.EmployeeAuditRows(ctx, employeeID, taxYear)
	if err != nil {
		return Certificate{}, err
	}
	if len(rows) == 0 {
		return Certificate{}, fmt.Errorf("%w: employee %s tax year %s", ErrNoCommittedData, employeeID, taxYear)
	}

	latest := rows[len(rows)-1]
	employer, err := s.store.PracticeName(ctx, latest.PracticeID)
	if err != nil {
		return Certificate{}, err
	}
	gross, paye, uif := decimal.Zero, decimal.Zero, decimal.Zero
	for _, r := range rows {
		gross = gross.Add(r.Gross)
		paye = paye.Add(r.PAYE)
		uif = uif.Add(r.UIFEmployee).Add(r.UIFEmployer)
	}
	return Certificate{
		Number:       CertificateNumber(employeeID, taxYear),
		TaxYear:      taxYear,
		EmployeeID:   employeeID,
		EmployeeName: latest.EmployeeName,
		TaxNumber:    latest.TaxNumber,
		PracticeID:   latest.PracticeID,
		EmployerName: employer,
		PeriodsPaid:  len(rows),
		Gross:        Amount(gross),
		PAYE:         Amount(paye),
		UIF:          Amount(uif),
	}, nil
}

func CertificateNumber(employeeID, taxYear string) string {
	return uuid.NewSHA1(certificateNamespace, []byte(employeeID+"|"+taxYear)).String()
}
