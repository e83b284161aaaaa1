package reports

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"sapayroll/internal/platform/querier"
)

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

const auditRowColumns = `
    a.run_id::text, a.practice_id::text, a.employee_id::text, a.employee_name, COALESCE(a.tax_number, ''),
    a.month, a.year, a.tax_year, a.gross::text, a.monthly_paye::text, a.uif_employee::text,
    a.uif_employer::text, a.sdl::text`

func (s *Store) AuditRowsForPeriod(ctx context.Context, practiceID string, period Period) ([]AuditRow, error) {
	return s.queryAuditRows(ctx, `
    SELECT `+auditRowColumns+`
    FROM payroll_audit_logs a
    JOIN payroll_runs r ON r.id = a.run_id AND r.status = 'COMMITTED'
    WHERE a.practice_id = $1 AND a.month = $2 AND a.year = $3
    ORDER BY a.employee_name, a.employee_id
  `, practiceID, period.Month, period.Year)
}

func (s *Store) EmployeeAuditRows(ctx context.Context, employeeID, taxYear string) ([]AuditRow, error) {
	return s.queryAuditRows(ctx, `
    SELECT `+auditRowColumns+`
    FROM payroll_audit_logs a
    JOIN payroll_runs r ON r.id = a.run_id AND r.status = 'COMMITTED'
    WHERE a.employee_id = $1 AND a.tax_year = $2
    ORDER BY a.year, a.month
  `, employeeID, taxYear)
}

func (s *Store) queryAuditRows(ctx context.Context, sql string, args ...any) ([]AuditRow, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var row AuditRow
		var gross, paye, uifEE, uifER, sdl string
		if err := rows.Scan(&row.RunID, &row.PracticeID, &row.EmployeeID, &row.EmployeeName, &row.TaxNumber,
			&row.Period.Month, &row.Period.Year, &row.TaxYear, &gross, &paye, &uifEE, &uifER, &sdl); err != nil {
			return nil, err
		}
		amounts, err := parseAmounts(gross, paye, uifEE, uifER, sdl)
		if err != nil {
			return nil, err
		}
		row.Gross, row.PAYE, row.UIFEmployee, row.UIFEmployer, row.SDL = amounts[0], amounts[1], amounts[2], amounts[3], amounts[4]
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) AuditTotalsByMonth(ctx context.Context, practiceID, taxYear string) ([]MonthTotals, error) {
	return s.queryTotals(ctx, `
    SELECT a.month, a.year, COUNT(1), SUM(a.gross)::text, SUM(a.monthly_paye)::text,
           SUM(a.uif_employee)::text, SUM(a.uif_employer)::text, SUM(a.sdl)::text
    FROM payroll_audit_logs a
    JOIN payroll_runs r ON r.id = a.run_id AND r.status = 'COMMITTED'
    WHERE a.practice_id = $1 AND a.tax_year = $2
    GROUP BY a.year, a.month
    ORDER BY a.year, a.month
  `, practiceID, taxYear)
}

func (s *Store) CommittedRunTotals(ctx context.Context, practiceID, taxYear string) ([]MonthTotals, error) {
	return s.queryTotals(ctx, `
    SELECT month, year, employee_count, total_gross::text, total_paye::text,
           total_uif_employee::text, total_uif_employer::text, total_sdl::text
    FROM payroll_runs
    WHERE practice_id = $1 AND tax_year = $2 AND status = 'COMMITTED'
    ORDER BY year, month
  `, practiceID, taxYear)
}

func (s *Store) queryTotals(ctx context.Context, sql string, args ...any) ([]MonthTotals, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MonthTotals
	for rows.Next() {
		var m MonthTotals
		var gross, paye, uifEE, uifER, sdl string
		if err := rows.Scan(&m.Period.Month, &m.Period.Year, &m.EmployeeCount, &gross, &paye, &uifEE, &uifER, &sdl); err != nil {
			return nil, err
		}
		amounts, err := parseAmounts(gross, paye, uifEE, uifER, sdl)
		if err != nil {
			return nil, err
		}
		m.Gross, m.PAYE, m.UIFEmployee, m.UIFEmployer, m.SDL = amounts[0], amounts[1], amounts[2], amounts[3], amounts[4]
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PracticeName(ctx context.Context, practiceID string) (string, error) {
	var name string
	err := s.DB.QueryRow(ctx, "SELECT name FROM practices WHERE id = $1", practiceID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return name, err
}

func parseAmounts(raw ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(raw))
	for i, value := range raw {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
